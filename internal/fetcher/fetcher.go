// Package fetcher pulls raw contracts and their items from the game API:
// public listings per region, private listings per corporation.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/raphaelgruber/esisync/internal/esi"
	"github.com/raphaelgruber/esisync/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxPages bounds pagination of a single listing.
const DefaultMaxPages = 200

// API is the subset of the game API client used for fetching.
type API interface {
	PublicContracts(ctx context.Context, regionID int64, page int) ([]models.Contract, error)
	PublicContractItems(ctx context.Context, contractID int64, page int) ([]models.ContractItem, error)
	CorporationContracts(ctx context.Context, ts oauth2.TokenSource, corporationID int64, page int) ([]models.Contract, error)
	CorporationContractItems(ctx context.Context, ts oauth2.TokenSource, corporationID, contractID int64) ([]models.ContractItem, error)
}

// Tokens provides bearer credentials per character.
type Tokens interface {
	TokenSource(ctx context.Context, characterID int64) (oauth2.TokenSource, error)
}

// Corporation is a tracked corporation and the character whose token reads its contracts.
type Corporation struct {
	ID          int64  `yaml:"id"`
	CharacterID int64  `yaml:"character_id"`
	Name        string `yaml:"name"`
}

// Options tunes the fetcher.
type Options struct {
	// Concurrency caps in-flight requests per listing and for item fetches.
	Concurrency int
	// MaxPages stops pagination of one listing after this many pages.
	MaxPages int
}

// PageStats summarizes the pagination of one listing.
type PageStats struct {
	Pages       int
	FailedPages int
}

// Fetcher retrieves contracts and items.
type Fetcher struct {
	api    API
	tokens Tokens
	opts   Options
	log    *slog.Logger

	mu         sync.Mutex
	corpTokens map[int64]oauth2.TokenSource
}

// New creates a fetcher. tokens may be nil when no corporations are tracked.
func New(api API, tokens Tokens, opts Options, log *slog.Logger) *Fetcher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = DefaultMaxPages
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		api:        api,
		tokens:     tokens,
		opts:       opts,
		log:        log.With("component", "fetcher"),
		corpTokens: make(map[int64]oauth2.TokenSource),
	}
}

// Public fetches all outstanding public contracts in a region. Pages are
// requested in parallel waves; a failed page is skipped and counted. An error
// is returned only when the first page could not be fetched at all.
func (f *Fetcher) Public(ctx context.Context, regionID int64) ([]models.Contract, PageStats, error) {
	log := f.log.With("region_id", regionID)
	contracts, stats, err := fetchPages(ctx, f.opts, esi.ContractsPageSize, log,
		func(ctx context.Context, page int) ([]models.Contract, error) {
			return f.api.PublicContracts(ctx, regionID, page)
		})
	if err != nil {
		return nil, stats, fmt.Errorf("region %d: %w", regionID, err)
	}
	contracts = dedupe(contracts)
	log.Info("public contracts fetched", "contracts", len(contracts), "pages", stats.Pages, "failed_pages", stats.FailedPages)
	return contracts, stats, nil
}

// Corporation fetches the contracts issued by a corporation using the
// tracked character's token. Finished and deleted contracts and contracts
// merely assigned to the corporation are dropped.
func (f *Fetcher) Corporation(ctx context.Context, corp Corporation) ([]models.Contract, PageStats, error) {
	log := f.log.With("corporation_id", corp.ID, "character_id", corp.CharacterID)

	ts, err := f.corporationToken(ctx, corp)
	if err != nil {
		return nil, PageStats{}, err
	}

	raw, stats, err := fetchPages(ctx, f.opts, esi.ContractsPageSize, log,
		func(ctx context.Context, page int) ([]models.Contract, error) {
			return f.api.CorporationContracts(ctx, ts, corp.ID, page)
		})
	if err != nil {
		return nil, stats, fmt.Errorf("corporation %d: %w", corp.ID, err)
	}

	out := make([]models.Contract, 0, len(raw))
	for _, c := range raw {
		if s := c.EffectiveStatus(); s == models.StatusFinished || s == models.StatusDeleted {
			continue
		}
		if c.IssuerCorporationID != corp.ID {
			continue
		}
		c.CorporationID = corp.ID
		out = append(out, c)
	}
	out = dedupe(out)
	log.Info("corporation contracts fetched", "contracts", len(out), "listed", len(raw), "pages", stats.Pages)
	return out, stats, nil
}

func (f *Fetcher) corporationToken(ctx context.Context, corp Corporation) (oauth2.TokenSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ts, ok := f.corpTokens[corp.ID]; ok {
		return ts, nil
	}
	if f.tokens == nil {
		return nil, fmt.Errorf("corporation %d: %w: no token manager", corp.ID, esi.ErrTokenUnavailable)
	}
	ts, err := f.tokens.TokenSource(ctx, corp.CharacterID)
	if err != nil {
		return nil, fmt.Errorf("corporation %d token: %w: %v", corp.ID, esi.ErrTokenUnavailable, err)
	}
	f.corpTokens[corp.ID] = ts
	return ts, nil
}

// Items fetches the items of one contract. A contract whose items cannot be
// retrieved gets an unknown item set together with the error; public courier
// contracts expose no items and are unknown without a request.
func (f *Fetcher) Items(ctx context.Context, c models.Contract) (models.ItemSet, error) {
	if c.Source == models.SourceCorporation {
		f.mu.Lock()
		ts := f.corpTokens[c.CorporationID]
		f.mu.Unlock()
		if ts == nil {
			return models.UnknownItems(), fmt.Errorf("contract %d: %w", c.ContractID, esi.ErrNoCredential)
		}
		items, err := f.api.CorporationContractItems(ctx, ts, c.CorporationID, c.ContractID)
		if err != nil {
			return models.UnknownItems(), err
		}
		return models.KnownItems(items), nil
	}

	if c.Type == models.ContractTypeCourier {
		return models.UnknownItems(), nil
	}

	var all []models.ContractItem
	for page := 1; page <= f.opts.MaxPages; page++ {
		items, err := f.api.PublicContractItems(ctx, c.ContractID, page)
		if err != nil {
			if page > 1 && errors.Is(err, esi.ErrNotFound) {
				break
			}
			return models.UnknownItems(), err
		}
		all = append(all, items...)
		if len(items) < esi.PublicItemsPageSize {
			break
		}
	}
	return models.KnownItems(all), nil
}

// ItemsFor fetches items for many contracts with bounded parallelism.
// Every contract gets an entry; failures are logged and yield unknown sets.
func (f *Fetcher) ItemsFor(ctx context.Context, contracts []models.Contract) (map[int64]models.ItemSet, int) {
	out := make(map[int64]models.ItemSet, len(contracts))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Concurrency)
	for _, c := range contracts {
		g.Go(func() error {
			set := models.UnknownItems()
			var err error
			if gctx.Err() == nil {
				set, err = f.Items(gctx, c)
			} else {
				err = gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			out[c.ContractID] = set
			if err != nil {
				failed++
				if !errors.Is(err, esi.ErrNoContent) && !errors.Is(err, context.Canceled) {
					f.log.Warn("contract items unavailable", "contract_id", c.ContractID, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, failed
}

type pageResult[T any] struct {
	items []T
	err   error
}

// fetchPages requests pages in waves of opts.Concurrency until a wave contains
// a page shorter than pageSize. Failed pages are skipped. Authorization
// failures abort the listing.
func fetchPages[T any](ctx context.Context, opts Options, pageSize int, log *slog.Logger, fetch func(context.Context, int) ([]T, error)) ([]T, PageStats, error) {
	var (
		out         []T
		stats       PageStats
		failedWaves int
	)

	for page := 1; page <= opts.MaxPages; {
		wave := min(opts.Concurrency, opts.MaxPages-page+1)
		results := make([]pageResult[T], wave)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < wave; i++ {
			g.Go(func() error {
				items, err := fetch(gctx, page+i)
				results[i] = pageResult[T]{items: items, err: err}
				if esi.IsAuthorizationError(err) {
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, stats, err
		}

		more := true
		failed := 0
		for i, r := range results {
			stats.Pages++
			if r.err != nil {
				failed++
				stats.FailedPages++
				log.Warn("page fetch failed, skipping", "page", page+i, "error", r.err)
				continue
			}
			out = append(out, r.items...)
			if len(r.items) < pageSize {
				more = false
			}
		}

		if failed == wave {
			if page == 1 {
				return nil, stats, results[0].err
			}
			// A failed page may have been full; give up after two dead waves.
			failedWaves++
			if failedWaves >= 2 {
				break
			}
		} else {
			failedWaves = 0
		}
		if !more {
			break
		}
		page += wave
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	return out, stats, nil
}

// dedupe drops repeated contract IDs, keeping the first occurrence. Listings
// can shift between page requests and return a contract twice.
func dedupe(contracts []models.Contract) []models.Contract {
	seen := make(map[int64]struct{}, len(contracts))
	out := contracts[:0]
	for _, c := range contracts {
		if _, ok := seen[c.ContractID]; ok {
			continue
		}
		seen[c.ContractID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Merge combines listings from several sources into one list ordered by
// contract ID. When a contract appears in both a public and a corporation
// listing, the corporation copy wins.
func Merge(lists ...[]models.Contract) []models.Contract {
	byID := make(map[int64]models.Contract)
	for _, list := range lists {
		for _, c := range list {
			prev, ok := byID[c.ContractID]
			if ok && prev.Source == models.SourceCorporation && c.Source != models.SourceCorporation {
				continue
			}
			byID[c.ContractID] = c
		}
	}
	out := make([]models.Contract, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContractID < out[j].ContractID })
	return out
}
