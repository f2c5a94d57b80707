package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/raphaelgruber/esisync/internal/service"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch, resolve and upsert contracts",
	Long: `Fetch contracts from every tracked region and corporation, resolve them,
and create or update one WordPress record per contract. Records whose content
is unchanged are not written. Records of contracts that are no longer listed
are left alone; use 'esisync cleanup stale' to remove them.

Examples:
  esisync sync
  esisync sync --dry-run
  esisync sync --progress=false --json`,
	RunE: runSync,
}

var (
	syncDryRun   bool
	syncProgress bool
	syncJSON     bool
	syncMetrics  bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "report what would change without writing")
	syncCmd.Flags().BoolVar(&syncProgress, "progress", true, "show live progress on a terminal")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the run report as JSON")
	syncCmd.Flags().BoolVar(&syncMetrics, "metrics", false, "print request timings after the report")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, appOptions{destination: true, dryRun: syncDryRun})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	if a.sources().Empty() {
		logger.Warn("nothing tracked", "tracking_file", cfg.TrackingFile)
	}

	opts := service.RunOptions{Sources: a.sources()}
	var report *service.Report
	if wantsProgressUI(cmd) && !syncJSON {
		report, err = runWithProgress(ctx, a.pipeline, opts)
	} else {
		report, err = a.pipeline.Run(ctx, nil, opts)
	}
	if report == nil {
		return err
	}

	if syncJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	} else {
		fmt.Print(renderReport(report, syncDryRun))
	}
	if syncMetrics {
		fmt.Print(renderMetrics(a.metrics.Snapshot()))
	}

	if errors.Is(err, service.ErrRunFatal) {
		return err
	}
	if err != nil {
		return fmt.Errorf("run %s: %w", report.RunID, err)
	}
	return nil
}
