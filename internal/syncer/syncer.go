// Package syncer reconciles resolved contracts against destination records.
// Records are addressed by their canonical slug; unchanged records are never
// rewritten, and duplicate or stale records are removed only on request.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"

	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/wordpress"
)

// ErrEmptyActiveSet is returned by PruneStale when asked to prune against no
// active contracts, which would delete every record.
var ErrEmptyActiveSet = errors.New("refusing to prune against an empty active set")

// Destination is the subset of the destination store client the syncer uses.
type Destination interface {
	ListAll(ctx context.Context, postType string) ([]wordpress.Post, error)
	Get(ctx context.Context, postType string, id int64) (*wordpress.Post, error)
	FindBySlug(ctx context.Context, postType, slug string) (*wordpress.Post, error)
	Create(ctx context.Context, postType string, in wordpress.PostInput) (*wordpress.Post, error)
	Update(ctx context.Context, postType string, id int64, in wordpress.PostInput) (*wordpress.Post, error)
	Delete(ctx context.Context, postType string, id int64) error
}

// PostIndex maps (kind, entity id) to a destination post id.
type PostIndex interface {
	PostID(ctx context.Context, kind models.Kind, entityID int64) (int64, error)
	SetPostID(ctx context.Context, kind models.Kind, entityID, postID int64) error
	DeletePostID(ctx context.Context, kind models.Kind, entityID int64) error
}

// Outcome is what happened to one contract during sync.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Options configures a Syncer.
type Options struct {
	PostType string // defaults to "contract"
	Status   string // status for new records, defaults to "publish"
	DryRun   bool   // report what would change without writing
}

// Result aggregates a batch sync.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Failed    int
	Errors    map[int64]error
}

// Syncer upserts contract records.
type Syncer struct {
	dest  Destination
	index PostIndex
	opts  Options
	log   *slog.Logger
}

// New creates a syncer. index may be nil, in which case lookups go by slug only.
func New(dest Destination, index PostIndex, opts Options, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	if opts.PostType == "" {
		opts.PostType = string(models.KindContract)
	}
	if opts.Status == "" {
		opts.Status = "publish"
	}
	return &Syncer{dest: dest, index: index, opts: opts, log: log.With("component", "syncer")}
}

// DryRun reports whether the syncer only reports changes.
func (s *Syncer) DryRun() bool {
	return s.opts.DryRun
}

// Sync upserts every contract. Failures are contained per contract; the
// batch is not transactional, and re-running it is safe.
func (s *Syncer) Sync(ctx context.Context, contracts []models.ResolvedContract, onDone func(models.ResolvedContract, Outcome)) Result {
	res := Result{Errors: make(map[int64]error)}
	for _, rc := range contracts {
		if ctx.Err() != nil {
			res.Failed++
			res.Errors[rc.ContractID] = ctx.Err()
			continue
		}
		outcome, err := s.SyncContract(ctx, rc)
		switch outcome {
		case OutcomeCreated:
			res.Created++
		case OutcomeUpdated:
			res.Updated++
		case OutcomeUnchanged:
			res.Unchanged++
		default:
			res.Failed++
			res.Errors[rc.ContractID] = err
			s.log.Warn("sync contract failed", "contract_id", rc.ContractID, "error", err)
		}
		if onDone != nil {
			onDone(rc, outcome)
		}
	}
	return res
}

// SyncContract creates, updates or skips the record for one contract.
func (s *Syncer) SyncContract(ctx context.Context, rc models.ResolvedContract) (Outcome, error) {
	want := BuildRecord(rc)

	existing, err := s.find(ctx, rc.ContractID, want.Slug)
	if err != nil {
		return OutcomeFailed, err
	}

	if existing == nil {
		if s.opts.DryRun {
			return OutcomeCreated, nil
		}
		want.Status = s.opts.Status
		created, err := s.dest.Create(ctx, s.opts.PostType, want)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("create record for contract %d: %w", rc.ContractID, err)
		}
		s.remember(ctx, rc.ContractID, created.ID)
		s.log.Debug("created record", "contract_id", rc.ContractID, "post_id", created.ID)
		return OutcomeCreated, nil
	}

	if Unchanged(existing, want) {
		return OutcomeUnchanged, nil
	}
	if s.opts.DryRun {
		return OutcomeUpdated, nil
	}
	if _, err := s.dest.Update(ctx, s.opts.PostType, existing.ID, want); err != nil {
		return OutcomeFailed, fmt.Errorf("update record %d for contract %d: %w", existing.ID, rc.ContractID, err)
	}
	s.log.Debug("updated record", "contract_id", rc.ContractID, "post_id", existing.ID)
	return OutcomeUpdated, nil
}

// Unchanged reports whether the stored record already matches want.
func Unchanged(existing *wordpress.Post, want wordpress.PostInput) bool {
	if existing.Slug != want.Slug {
		return false
	}
	if existing.MetaString(MetaContractHash) != want.Meta[MetaContractHash] {
		return false
	}
	title := existing.Title.Raw
	if title == "" {
		title = html.UnescapeString(existing.Title.Rendered)
	}
	return title == want.Title
}

// find looks the record up through the post index first, then by slug.
// A stale index entry is dropped and replaced.
func (s *Syncer) find(ctx context.Context, contractID int64, slug string) (*wordpress.Post, error) {
	if s.index != nil {
		postID, err := s.index.PostID(ctx, models.KindContract, contractID)
		if err != nil {
			s.log.Warn("post index lookup failed", "contract_id", contractID, "error", err)
		}
		if postID != 0 {
			p, err := s.dest.Get(ctx, s.opts.PostType, postID)
			switch {
			case err == nil && p.Slug == slug:
				return p, nil
			case err == nil, errors.Is(err, wordpress.ErrNotFound):
				s.log.Debug("dropping stale post index entry", "contract_id", contractID, "post_id", postID)
				if !s.opts.DryRun {
					_ = s.index.DeletePostID(ctx, models.KindContract, contractID)
				}
			default:
				return nil, fmt.Errorf("get record %d for contract %d: %w", postID, contractID, err)
			}
		}
	}

	p, err := s.dest.FindBySlug(ctx, s.opts.PostType, slug)
	if errors.Is(err, wordpress.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record for contract %d: %w", contractID, err)
	}
	s.remember(ctx, contractID, p.ID)
	return p, nil
}

func (s *Syncer) remember(ctx context.Context, contractID, postID int64) {
	if s.index == nil || s.opts.DryRun {
		return
	}
	if err := s.index.SetPostID(ctx, models.KindContract, contractID, postID); err != nil {
		s.log.Warn("post index update failed", "contract_id", contractID, "post_id", postID, "error", err)
	}
}

// DuplicateGroup is one contract with more than one record.
type DuplicateGroup struct {
	ContractID int64
	Kept       wordpress.Post
	Removed    []wordpress.Post
}

// CleanupResult summarises a duplicate or stale cleanup.
type CleanupResult struct {
	Scanned int
	Groups  []DuplicateGroup
	Deleted int
	Renamed int
	Failed  int
}

// CleanupDuplicates groups records by the contract id parsed from their slug
// and keeps exactly one per contract: the record with the canonical slug, or
// when none has it, the oldest record, which is renamed to the canonical slug.
func (s *Syncer) CleanupDuplicates(ctx context.Context) (CleanupResult, error) {
	posts, err := s.dest.ListAll(ctx, s.opts.PostType)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("list records: %w", err)
	}
	res := CleanupResult{Scanned: len(posts)}

	groups := make(map[int64][]wordpress.Post)
	for _, p := range posts {
		id, _, ok := models.ParseSlug(models.KindContract, p.Slug)
		if !ok {
			continue
		}
		groups[id] = append(groups[id], p)
	}

	ids := make([]int64, 0, len(groups))
	for id, g := range groups {
		if len(g) > 1 || !isCanonical(g[0], id) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, contractID := range ids {
		g := groups[contractID]
		sort.Slice(g, func(i, j int) bool { return g[i].ID < g[j].ID })

		keep := 0
		for i, p := range g {
			if isCanonical(p, contractID) {
				keep = i
				break
			}
		}
		group := DuplicateGroup{ContractID: contractID, Kept: g[keep]}
		for i, p := range g {
			if i != keep {
				group.Removed = append(group.Removed, p)
			}
		}
		res.Groups = append(res.Groups, group)
		if s.opts.DryRun {
			continue
		}

		// Delete first so the canonical slug is free for a rename.
		for _, p := range group.Removed {
			if err := s.dest.Delete(ctx, s.opts.PostType, p.ID); err != nil {
				res.Failed++
				s.log.Warn("delete duplicate failed", "contract_id", contractID, "post_id", p.ID, "slug", p.Slug, "error", err)
				continue
			}
			res.Deleted++
			s.log.Info("deleted duplicate record", "contract_id", contractID, "post_id", p.ID, "slug", p.Slug)
		}
		if !isCanonical(group.Kept, contractID) {
			slug := models.ContractSlug(contractID)
			if _, err := s.dest.Update(ctx, s.opts.PostType, group.Kept.ID, wordpress.PostInput{Slug: slug}); err != nil {
				res.Failed++
				s.log.Warn("rename record failed", "contract_id", contractID, "post_id", group.Kept.ID, "error", err)
				continue
			}
			res.Renamed++
		}
		s.remember(ctx, contractID, group.Kept.ID)
	}
	return res, nil
}

// PruneStale deletes records whose contract is not in active and drops their
// post index entries. Records whose slug is not a contract slug are left alone.
func (s *Syncer) PruneStale(ctx context.Context, active map[int64]bool) (CleanupResult, []int64, error) {
	if len(active) == 0 {
		return CleanupResult{}, nil, ErrEmptyActiveSet
	}
	posts, err := s.dest.ListAll(ctx, s.opts.PostType)
	if err != nil {
		return CleanupResult{}, nil, fmt.Errorf("list records: %w", err)
	}
	res := CleanupResult{Scanned: len(posts)}

	var pruned []int64
	for _, p := range posts {
		contractID, _, ok := models.ParseSlug(models.KindContract, p.Slug)
		if !ok || active[contractID] {
			continue
		}
		if s.opts.DryRun {
			res.Deleted++
			pruned = append(pruned, contractID)
			continue
		}
		if err := s.dest.Delete(ctx, s.opts.PostType, p.ID); err != nil {
			res.Failed++
			s.log.Warn("delete stale record failed", "contract_id", contractID, "post_id", p.ID, "error", err)
			continue
		}
		res.Deleted++
		pruned = append(pruned, contractID)
		if s.index != nil {
			if err := s.index.DeletePostID(ctx, models.KindContract, contractID); err != nil {
				s.log.Warn("post index delete failed", "contract_id", contractID, "error", err)
			}
		}
		s.log.Info("deleted stale record", "contract_id", contractID, "post_id", p.ID)
	}
	return res, pruned, nil
}

func isCanonical(p wordpress.Post, contractID int64) bool {
	return p.Slug == models.ContractSlug(contractID)
}
