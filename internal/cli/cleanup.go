package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove duplicate or stale contract records",
}

var cleanupDuplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Collapse multiple records of the same contract into one",
	Long: `Scan every contract record on the site and group them by contract id.
The record with the canonical slug (contract-<id>) is kept; when none has it,
the oldest record is kept and renamed. All others are deleted.

Examples:
  esisync cleanup duplicates --dry-run
  esisync cleanup duplicates`,
	Args: cobra.NoArgs,
	RunE: runCleanupDuplicates,
}

var cleanupStaleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Delete records of contracts no longer listed by any tracked source",
	Long: `Fetch the active contract ids from every tracked source and delete records
whose contract is not among them. Refuses to run when any source failed or
returned nothing, so an outage cannot wipe the site.

Examples:
  esisync cleanup stale --dry-run`,
	Args: cobra.NoArgs,
	RunE: runCleanupStale,
}

func init() {
	cleanupCmd.PersistentFlags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	cleanupCmd.AddCommand(cleanupDuplicatesCmd)
	cleanupCmd.AddCommand(cleanupStaleCmd)
}

func runCleanupDuplicates(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, appOptions{destination: true, dryRun: cleanupDryRun})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	res, err := a.pipeline.CleanupDuplicates(ctx)
	if err != nil {
		return fmt.Errorf("cleanup duplicates: %w", err)
	}
	fmt.Print(renderCleanup("Duplicate", res, cleanupDryRun))
	return nil
}

func runCleanupStale(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, appOptions{destination: true, dryRun: cleanupDryRun})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	res, err := a.pipeline.PruneStale(ctx, a.sources())
	if err != nil {
		return fmt.Errorf("cleanup stale: %w", err)
	}
	fmt.Print(renderCleanup("Stale", res, cleanupDryRun))
	return nil
}
