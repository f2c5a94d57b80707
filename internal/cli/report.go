package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/esisync/internal/metrics"
	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/service"
	"github.com/raphaelgruber/esisync/internal/syncer"
)

// renderReport formats a run report for the terminal.
func renderReport(r *service.Report, dryRun bool) string {
	t := defaultTheme
	var b strings.Builder

	heading := fmt.Sprintf("✓ Run %s", r.RunID)
	if dryRun {
		heading += " (dry run)"
	}
	if !r.FinishedAt.IsZero() {
		heading += fmt.Sprintf(" in %s", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	b.WriteString(t.completedStyle().Render(heading) + "\n\n")

	fmt.Fprintf(&b, "  Fetched:        %d (public %d, corporation %d)\n", r.Fetched, r.PublicFetched, r.CorporationFetched)
	fmt.Fprintf(&b, "  Resolved:       %d new, %d re-expanded, %d from cache\n", r.Resolved, r.Reexpanded, r.CacheHits)
	fmt.Fprintf(&b, "  Created:        %d\n", r.Created)
	fmt.Fprintf(&b, "  Updated:        %d\n", r.Updated)
	fmt.Fprintf(&b, "  Unchanged:      %d\n", r.Unchanged)
	if r.FailedWrites > 0 {
		b.WriteString(t.errorStyle().Render(fmt.Sprintf("  Failed writes:  %d", r.FailedWrites)) + "\n")
	}
	if r.SkippedPages > 0 || r.SkippedContracts > 0 {
		b.WriteString(t.warningStyle().Render(fmt.Sprintf("  Skipped:        %d pages, %d contracts without items", r.SkippedPages, r.SkippedContracts)) + "\n")
	}

	if len(r.SourceErrors) > 0 {
		b.WriteString(t.errorStyle().Render(fmt.Sprintf("\nFailed sources (%d):", len(r.SourceErrors))) + "\n")
		for _, e := range r.SourceErrors {
			fmt.Fprintf(&b, "  • %s %d: %s\n", e.Source, e.ID, e.Err)
		}
	}

	if len(r.Review) > 0 {
		b.WriteString(t.warningStyle().Render(fmt.Sprintf("\nNeeds review (%d):", len(r.Review))) + "\n")
		for _, item := range r.Review {
			b.WriteString("  • " + reviewLine(item) + "\n")
		}
	}
	return b.String()
}

func reviewLine(item models.ReviewItem) string {
	if item.TypeID == 0 {
		return fmt.Sprintf("contract %d: %s", item.ContractID, item.Reason)
	}
	return fmt.Sprintf("contract %d: %s (%d) %s", item.ContractID, item.TypeName, item.TypeID, item.Reason)
}

// renderContracts formats resolved contracts as a table.
func renderContracts(contracts []models.ResolvedContract) string {
	if len(contracts) == 0 {
		return "No contracts found\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-14s %-12s %-12s %s\n", "ID", "TYPE", "STATUS", "SOURCE", "TITLE")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	for _, c := range contracts {
		fmt.Fprintf(&b, "%-12d %-14s %-12s %-12s %s\n", c.ContractID, c.Type, c.Status, c.Source, c.Title)
	}
	return b.String()
}

// renderCleanup formats a duplicate or stale cleanup result.
func renderCleanup(kind string, res syncer.CleanupResult, dryRun bool) string {
	t := defaultTheme
	var b strings.Builder

	verb := "Deleted"
	if dryRun {
		verb = "Would delete"
	}
	b.WriteString(t.completedStyle().Render(fmt.Sprintf("✓ %s cleanup", kind)) + "\n\n")
	fmt.Fprintf(&b, "  Scanned:  %d records\n", res.Scanned)
	fmt.Fprintf(&b, "  %s: %d\n", verb, max(res.Deleted, removedCount(res)))
	if res.Renamed > 0 {
		fmt.Fprintf(&b, "  Renamed:  %d\n", res.Renamed)
	}
	if res.Failed > 0 {
		b.WriteString(t.errorStyle().Render(fmt.Sprintf("  Failed:   %d", res.Failed)) + "\n")
	}
	for _, g := range res.Groups {
		fmt.Fprintf(&b, "  • contract %d: keep %s (#%d)", g.ContractID, g.Kept.Slug, g.Kept.ID)
		for _, p := range g.Removed {
			fmt.Fprintf(&b, ", drop %s (#%d)", p.Slug, p.ID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func removedCount(res syncer.CleanupResult) int {
	n := 0
	for _, g := range res.Groups {
		n += len(g.Removed)
	}
	return n
}

// renderMetrics formats request timings.
func renderMetrics(s metrics.Snapshot) string {
	ops := s.Operations()
	if len(ops) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-14s %8s %8s %10s %10s\n", "OPERATION", "COUNT", "ERRORS", "AVG MS", "MAX MS")
	for _, op := range ops {
		fmt.Fprintf(&b, "%-14s %8d %8d %10.1f %10d\n", op.Name, op.Count, op.Errors, op.AvgTimeMs, op.MaxTimeMs)
	}
	return b.String()
}
