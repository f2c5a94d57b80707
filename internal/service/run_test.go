package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunTrackerLifecycle(t *testing.T) {
	tr := NewRunTracker(nil)

	run := tr.Start()
	require.NotNil(t, run)
	assert.Len(t, run.ID, 8)
	assert.Equal(t, RunStatusPending, run.Snapshot().Status)
	assert.False(t, run.Done())

	tr.SetPhase(run, PhaseItems, 10)
	tr.Advance(run, 3)
	tr.Advance(run, 2)
	snap := run.Snapshot()
	assert.Equal(t, RunStatusRunning, snap.Status)
	assert.Equal(t, PhaseItems, snap.Phase)
	assert.Equal(t, 5, snap.Progress)
	assert.Equal(t, 10, snap.Total)

	tr.SetPhase(run, PhaseSync, 4)
	assert.Zero(t, run.Snapshot().Progress, "a new phase resets progress")

	tr.Complete(run, &Report{Fetched: 4})
	snap = run.Snapshot()
	assert.Equal(t, RunStatusCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, 4, snap.Report.Fetched)
	assert.True(t, run.Done())
}

func TestRunTrackerFail(t *testing.T) {
	tr := NewRunTracker(nil)
	run := tr.Start()
	tr.Fail(run, nil, errors.New("boom"))

	snap := tr.Get(run.ID).Snapshot()
	assert.Equal(t, RunStatusFailed, snap.Status)
	assert.Equal(t, "boom", snap.Error)
	assert.Nil(t, snap.Report)
}

func TestRunTrackerListMostRecentFirst(t *testing.T) {
	tr := NewRunTracker(nil)
	first := tr.Start()
	second := tr.Start()
	first.StartedAt = second.StartedAt.Add(-time.Minute)

	runs := tr.List()
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)

	assert.Nil(t, tr.Get("missing"))
}

func TestRunTrackerNilRun(t *testing.T) {
	tr := NewRunTracker(nil)
	assert.NotPanics(t, func() {
		tr.SetPhase(nil, PhaseFetch, 1)
		tr.Advance(nil, 1)
		tr.Complete(nil, &Report{})
		tr.Fail(nil, nil, errors.New("x"))
	})
}
