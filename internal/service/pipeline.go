package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/esisync/internal/contractcache"
	"github.com/raphaelgruber/esisync/internal/expander"
	"github.com/raphaelgruber/esisync/internal/fetcher"
	"github.com/raphaelgruber/esisync/internal/metrics"
	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/syncer"
)

var (
	// ErrRunFatal is returned when no contract source could be read at all.
	ErrRunFatal = errors.New("run fatal: no contract source could be read")

	// ErrIncompleteFetch is returned by PruneStale when a source failed, since
	// the active set would be missing contracts that still exist.
	ErrIncompleteFetch = errors.New("refusing to prune after an incomplete fetch")

	// ErrNoSyncer is returned when a sync-only operation is called on a
	// pipeline built without a destination.
	ErrNoSyncer = errors.New("no destination configured")
)

// Sources lists what a run fetches.
type Sources struct {
	Regions      []int64
	Corporations []fetcher.Corporation
}

// Empty reports whether nothing is tracked.
func (s Sources) Empty() bool {
	return len(s.Regions) == 0 && len(s.Corporations) == 0
}

// RunOptions configures one run.
type RunOptions struct {
	Sources Sources
	// SkipSync resolves contracts without touching the destination.
	SkipSync bool
}

// SourceError records a listing that could not be fetched.
type SourceError struct {
	Source models.Source
	ID     int64 // region or corporation ID
	Err    string
}

// Report summarizes a run.
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Fetched            int // unique contracts after merging sources
	PublicFetched      int
	CorporationFetched int
	Resolved           int // expanded from freshly fetched items
	Reexpanded         int // status changed, expanded from cached items
	CacheHits          int

	Created      int
	Updated      int
	Unchanged    int
	FailedWrites int

	SkippedPages     int
	SkippedContracts int // items could not be fetched
	SourceErrors     []SourceError
	Review           []models.ReviewItem

	Contracts []models.ResolvedContract
}

// Pipeline wires fetcher, expander, contract cache and syncer together.
type Pipeline struct {
	fetcher  *fetcher.Fetcher
	expander *expander.Expander
	cache    contractcache.Store
	syncer   *syncer.Syncer
	tracker  *RunTracker
	metrics  *metrics.Collector
	log      *slog.Logger
}

// NewPipeline creates a pipeline. sync may be nil when only resolving.
func NewPipeline(f *fetcher.Fetcher, e *expander.Expander, cache contractcache.Store, sync *syncer.Syncer, tracker *RunTracker, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if tracker == nil {
		tracker = NewRunTracker(log)
	}
	return &Pipeline{
		fetcher:  f,
		expander: e,
		cache:    cache,
		syncer:   sync,
		tracker:  tracker,
		log:      log.With("component", "pipeline"),
	}
}

// WithMetrics records contract cache writes in m.
func (p *Pipeline) WithMetrics(m *metrics.Collector) *Pipeline {
	p.metrics = m
	return p
}

// Tracker returns the run tracker.
func (p *Pipeline) Tracker() *RunTracker {
	return p.tracker
}

// Run executes one full pass. The returned report is non-nil even on error.
// run may be nil, in which case a new one is started.
func (p *Pipeline) Run(ctx context.Context, run *Run, opts RunOptions) (*Report, error) {
	if run == nil {
		run = p.tracker.Start()
	}
	report := &Report{RunID: run.ID, StartedAt: time.Now()}
	finish := func(err error) (*Report, error) {
		report.FinishedAt = time.Now()
		if err != nil {
			p.tracker.Fail(run, report, err)
			return report, err
		}
		p.tracker.Complete(run, report)
		return report, nil
	}

	contracts, err := p.fetch(ctx, run, opts.Sources, report)
	if err != nil {
		return finish(err)
	}

	resolved, err := p.resolve(ctx, run, contracts, report)
	if err != nil {
		return finish(err)
	}
	report.Contracts = resolved
	for _, rc := range resolved {
		report.Review = append(report.Review, expander.Review(rc)...)
	}
	if err := p.cache.Save(ctx); err != nil {
		p.log.Warn("saving contract cache failed", "error", err)
	}

	if opts.SkipSync || p.syncer == nil {
		return finish(nil)
	}

	p.tracker.SetPhase(run, PhaseSync, len(resolved))
	res := p.syncer.Sync(ctx, resolved, func(models.ResolvedContract, syncer.Outcome) {
		p.tracker.Advance(run, 1)
	})
	report.Created = res.Created
	report.Updated = res.Updated
	report.Unchanged = res.Unchanged
	report.FailedWrites = res.Failed
	if err := p.cache.Save(ctx); err != nil {
		p.log.Warn("saving post index failed", "error", err)
	}
	return finish(ctx.Err())
}

// fetch reads every source and merges the listings. A failed source is
// recorded and skipped; only when every source fails is the run fatal.
func (p *Pipeline) fetch(ctx context.Context, run *Run, sources Sources, report *Report) ([]models.Contract, error) {
	p.tracker.SetPhase(run, PhaseFetch, len(sources.Regions)+len(sources.Corporations))

	var (
		lists [][]models.Contract
		errs  []error
	)
	record := func(src models.Source, id int64, err error) {
		report.SourceErrors = append(report.SourceErrors, SourceError{Source: src, ID: id, Err: err.Error()})
		errs = append(errs, err)
		p.log.Warn("source failed", "source", src, "id", id, "error", err)
	}

	// Corporations first: their item fetches need the token sources
	// resolved while listing.
	for _, corp := range sources.Corporations {
		contracts, stats, err := p.fetcher.Corporation(ctx, corp)
		report.SkippedPages += stats.FailedPages
		p.tracker.Advance(run, 1)
		if err != nil {
			record(models.SourceCorporation, corp.ID, err)
			continue
		}
		report.CorporationFetched += len(contracts)
		lists = append(lists, contracts)
	}
	for _, region := range sources.Regions {
		contracts, stats, err := p.fetcher.Public(ctx, region)
		report.SkippedPages += stats.FailedPages
		p.tracker.Advance(run, 1)
		if err != nil {
			record(models.SourcePublic, region, err)
			continue
		}
		report.PublicFetched += len(contracts)
		lists = append(lists, contracts)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(errs) > 0 && len(lists) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRunFatal, errors.Join(errs...))
	}

	merged := fetcher.Merge(lists...)
	report.Fetched = len(merged)
	return merged, nil
}

// resolve turns contracts into resolved contracts, reusing the cache:
// terminal or unchanged status reuses the cached result, a changed status,
// a changed source or an unresolved type name re-expands from cached items,
// and a miss fetches items first. Only contracts with known items are cached.
func (p *Pipeline) resolve(ctx context.Context, run *Run, contracts []models.Contract, report *Report) ([]models.ResolvedContract, error) {
	p.tracker.SetPhase(run, PhaseExpand, len(contracts))

	byID := make(map[int64]models.ResolvedContract, len(contracts))
	var misses []models.Contract

	for _, c := range contracts {
		entry, err := p.cache.Get(ctx, c.ContractID)
		if err != nil {
			p.log.Warn("contract cache read failed", "contract_id", c.ContractID, "error", err)
		}
		switch {
		case entry == nil:
			misses = append(misses, c)
			continue
		case reusable(entry.Resolved, c):
			report.CacheHits++
			byID[c.ContractID] = entry.Resolved
		default:
			rc := p.expander.Expand(ctx, c, models.KnownItems(entry.Items))
			p.store(ctx, rc, entry.Items)
			report.Reexpanded++
			byID[c.ContractID] = rc
		}
		p.tracker.Advance(run, 1)
	}

	if len(misses) > 0 {
		p.tracker.SetPhase(run, PhaseItems, len(misses))
		items, failed := p.fetcher.ItemsFor(ctx, misses)
		report.SkippedContracts += failed
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p.tracker.SetPhase(run, PhaseExpand, len(misses))
		for _, c := range misses {
			set := items[c.ContractID]
			rc := p.expander.Expand(ctx, c, set)
			if set.Known() {
				p.store(ctx, rc, set.Items())
			}
			report.Resolved++
			byID[c.ContractID] = rc
			p.tracker.Advance(run, 1)
		}
	}

	// contracts is ordered by ID; keep that order.
	out := make([]models.ResolvedContract, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, byID[c.ContractID])
	}
	return out, nil
}

// reusable reports whether a cached resolution can stand in for c as is.
func reusable(cached models.ResolvedContract, c models.Contract) bool {
	if cached.Source != c.Source || !cached.NamesResolved() {
		return false
	}
	return cached.Status.IsTerminal() || cached.Status == c.EffectiveStatus()
}

func (p *Pipeline) store(ctx context.Context, rc models.ResolvedContract, items []models.ContractItem) {
	start := time.Now()
	err := p.cache.Put(ctx, models.CacheEntry{Resolved: rc, Items: items})
	p.metrics.Time(metrics.OpCacheStore, start, err)
	if err != nil {
		p.log.Warn("contract cache write failed", "contract_id", rc.ContractID, "error", err)
	}
}

// CleanupDuplicates removes duplicate destination records.
func (p *Pipeline) CleanupDuplicates(ctx context.Context) (syncer.CleanupResult, error) {
	if p.syncer == nil {
		return syncer.CleanupResult{}, ErrNoSyncer
	}
	res, err := p.syncer.CleanupDuplicates(ctx)
	if saveErr := p.cache.Save(ctx); saveErr != nil {
		p.log.Warn("saving post index failed", "error", saveErr)
	}
	return res, err
}

// PruneStale fetches the active contract set and deletes destination records
// for contracts outside it, together with their cache entries. It refuses to
// run when any source failed.
func (p *Pipeline) PruneStale(ctx context.Context, sources Sources) (syncer.CleanupResult, error) {
	if p.syncer == nil {
		return syncer.CleanupResult{}, ErrNoSyncer
	}
	run := p.tracker.Start()
	report := &Report{RunID: run.ID}
	contracts, err := p.fetch(ctx, run, sources, report)
	if err != nil {
		p.tracker.Fail(run, report, err)
		return syncer.CleanupResult{}, err
	}
	if len(report.SourceErrors) > 0 || report.SkippedPages > 0 {
		err := fmt.Errorf("%w: %d sources failed, %d pages skipped", ErrIncompleteFetch, len(report.SourceErrors), report.SkippedPages)
		p.tracker.Fail(run, report, err)
		return syncer.CleanupResult{}, err
	}

	active := make(map[int64]bool, len(contracts))
	for _, c := range contracts {
		active[c.ContractID] = true
	}
	res, pruned, err := p.syncer.PruneStale(ctx, active)
	if err != nil {
		p.tracker.Fail(run, report, err)
		return res, err
	}
	for _, id := range pruned {
		if p.syncer.DryRun() {
			break
		}
		if err := p.cache.Delete(ctx, id); err != nil {
			p.log.Warn("contract cache delete failed", "contract_id", id, "error", err)
		}
	}
	if err := p.cache.Save(ctx); err != nil {
		p.log.Warn("saving contract cache failed", "error", err)
	}
	report.Fetched = len(contracts)
	p.tracker.Complete(run, report)
	return res, nil
}
