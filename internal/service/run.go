// Package service orchestrates sync runs: fetch, expand, cache and upsert.
package service

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Phase is the pipeline stage a run is in.
type Phase string

const (
	PhaseFetch  Phase = "fetching contracts"
	PhaseItems  Phase = "fetching items"
	PhaseExpand Phase = "resolving"
	PhaseSync   Phase = "syncing"
	PhaseDone   Phase = "done"
)

// Run tracks one pipeline execution.
type Run struct {
	ID          string
	Status      RunStatus
	Phase       Phase
	Progress    int
	Total       int
	Report      *Report
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time

	mu sync.RWMutex
}

// RunTracker keeps the runs started by this process.
type RunTracker struct {
	runs map[string]*Run
	mu   sync.RWMutex
	log  *slog.Logger
}

// NewRunTracker creates a tracker. log may be nil.
func NewRunTracker(log *slog.Logger) *RunTracker {
	if log == nil {
		log = slog.Default()
	}
	return &RunTracker{runs: make(map[string]*Run), log: log}
}

// Start registers a new pending run.
func (t *RunTracker) Start() *Run {
	run := &Run{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		Status:    RunStatusPending,
		StartedAt: time.Now(),
	}

	t.mu.Lock()
	t.runs[run.ID] = run
	t.mu.Unlock()

	t.log.Info("run started", "run_id", run.ID)
	return run
}

// Get retrieves a run by ID.
func (t *RunTracker) Get(id string) *Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runs[id]
}

// List returns all runs, most recent first.
func (t *RunTracker) List() []*Run {
	t.mu.RLock()
	defer t.mu.RUnlock()

	runs := make([]*Run, 0, len(t.runs))
	for _, r := range t.runs {
		runs = append(runs, r)
	}
	slices.SortFunc(runs, func(a, b *Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return runs
}

// SetPhase moves a run to the next stage and resets its progress.
func (t *RunTracker) SetPhase(run *Run, phase Phase, total int) {
	if run == nil {
		return
	}
	run.mu.Lock()
	run.Status = RunStatusRunning
	run.Phase = phase
	run.Progress = 0
	run.Total = total
	run.mu.Unlock()

	t.log.Debug("run phase", "run_id", run.ID, "phase", phase, "total", total)
}

// Advance adds n to the progress of the current phase.
func (t *RunTracker) Advance(run *Run, n int) {
	if run == nil {
		return
	}
	run.mu.Lock()
	run.Progress += n
	run.mu.Unlock()
}

// Complete marks a run completed with its report.
func (t *RunTracker) Complete(run *Run, report *Report) {
	if run == nil {
		return
	}
	run.mu.Lock()
	run.Status = RunStatusCompleted
	run.Phase = PhaseDone
	run.Report = report
	now := time.Now()
	run.CompletedAt = &now
	run.mu.Unlock()

	t.log.Info("run completed",
		"run_id", run.ID,
		"fetched", report.Fetched,
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"review", len(report.Review))
}

// Fail marks a run failed. report may be nil.
func (t *RunTracker) Fail(run *Run, report *Report, err error) {
	if run == nil {
		return
	}
	run.mu.Lock()
	run.Status = RunStatusFailed
	run.Report = report
	run.Error = err.Error()
	now := time.Now()
	run.CompletedAt = &now
	run.mu.Unlock()

	t.log.Error("run failed", "run_id", run.ID, "error", err)
}

// Snapshot returns a thread-safe copy of run state.
func (r *Run) Snapshot() Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Run{
		ID:          r.ID,
		Status:      r.Status,
		Phase:       r.Phase,
		Progress:    r.Progress,
		Total:       r.Total,
		Report:      r.Report,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Done reports whether the run has finished, successfully or not.
func (r *Run) Done() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
