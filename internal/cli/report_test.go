package cli

import (
	"testing"
	"time"

	"github.com/raphaelgruber/esisync/internal/metrics"
	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/service"
	"github.com/raphaelgruber/esisync/internal/syncer"
	"github.com/raphaelgruber/esisync/internal/wordpress"
	"github.com/stretchr/testify/assert"
)

func TestRenderReport(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := &service.Report{
		RunID:              "abcd1234",
		StartedAt:          start,
		FinishedAt:         start.Add(1500 * time.Millisecond),
		Fetched:            3,
		PublicFetched:      2,
		CorporationFetched: 1,
		Resolved:           2,
		CacheHits:          1,
		Created:            1,
		Updated:            1,
		Unchanged:          1,
		FailedWrites:       1,
		SkippedPages:       2,
		SourceErrors: []service.SourceError{
			{Source: models.SourceCorporation, ID: 98000001, Err: "no token"},
		},
		Review: []models.ReviewItem{
			{ContractID: 7, TypeID: 29050, TypeName: "Paladin Blueprint", Reason: "low confidence"},
			{ContractID: 8, Reason: "items unknown"},
		},
	}

	out := renderReport(r, true)

	assert.Contains(t, out, "Run abcd1234 (dry run) in 1.5s")
	assert.Contains(t, out, "Fetched:        3 (public 2, corporation 1)")
	assert.Contains(t, out, "Failed writes:  1")
	assert.Contains(t, out, "2 pages, 0 contracts")
	assert.Contains(t, out, "corporation 98000001: no token")
	assert.Contains(t, out, "contract 7: Paladin Blueprint (29050) low confidence")
	assert.Contains(t, out, "contract 8: items unknown")
}

func TestRenderReportQuiet(t *testing.T) {
	out := renderReport(&service.Report{RunID: "r1"}, false)

	assert.NotContains(t, out, "dry run")
	assert.NotContains(t, out, "Failed")
	assert.NotContains(t, out, "Needs review")
}

func TestRenderCleanup(t *testing.T) {
	res := syncer.CleanupResult{
		Scanned: 4,
		Groups: []syncer.DuplicateGroup{{
			ContractID: 500,
			Kept:       wordpress.Post{ID: 1, Slug: "contract-500"},
			Removed:    []wordpress.Post{{ID: 2, Slug: "contract-500-dup1"}, {ID: 3, Slug: "contract-500-dup2"}},
		}},
	}

	out := renderCleanup("Duplicate", res, true)

	assert.Contains(t, out, "Would delete: 2")
	assert.Contains(t, out, "keep contract-500 (#1), drop contract-500-dup1 (#2), drop contract-500-dup2 (#3)")
}

func TestRenderContracts(t *testing.T) {
	assert.Equal(t, "No contracts found\n", renderContracts(nil))

	out := renderContracts([]models.ResolvedContract{{
		ContractID: 222262092,
		Type:       models.ContractTypeItemExchange,
		Status:     models.StatusOutstanding,
		Source:     models.SourcePublic,
		Title:      "BPO Paladin Blueprint",
	}})
	assert.Contains(t, out, "222262092")
	assert.Contains(t, out, "BPO Paladin Blueprint")
}

func TestRenderMetricsEmpty(t *testing.T) {
	assert.Empty(t, renderMetrics(metrics.NewCollector().Snapshot()))
}
