package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and repair local caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache sizes",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheForgetStructureCmd = &cobra.Command{
	Use:   "forget-structure <structure-id>",
	Short: "Retry name resolution for a structure that previously failed",
	Long: `Structures whose names could not be resolved are remembered and never
requested again. Use this after granting docking access or adding a token
with the right scope.

Examples:
  esisync cache forget-structure 1035466617946`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheForgetStructure,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheForgetStructureCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	names := a.names.Stats()
	contracts, posts, err := a.cache.Count(ctx)
	if err != nil {
		return fmt.Errorf("count contract cache: %w", err)
	}

	fmt.Println(defaultTheme.statusStyle().Render("Cache " + cfg.CacheDir))
	fmt.Printf("  Types:              %d\n", names.Types)
	fmt.Printf("  Locations:          %d\n", names.Locations)
	fmt.Printf("  Structures:         %d\n", names.Structures)
	fmt.Printf("  Failed structures:  %d\n", names.FailedStructures)
	fmt.Printf("  Contracts (%s):  %d\n", cfg.ContractCache, contracts)
	fmt.Printf("  Post ids:           %d\n", posts)
	return nil
}

func runCacheForgetStructure(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid structure id %q: %w", args[0], err)
	}

	ctx := context.Background()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if !a.names.ForgetFailedStructure(id) {
		fmt.Printf("Structure %d is not marked as failed\n", id)
		return nil
	}
	fmt.Printf("Structure %d will be looked up again on the next run\n", id)
	return nil
}
