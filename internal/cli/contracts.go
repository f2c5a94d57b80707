package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/raphaelgruber/esisync/internal/service"
	"github.com/spf13/cobra"
)

var contractsJSON bool

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Fetch and resolve contracts without writing to WordPress",
	Long: `Fetch contracts from every tracked source and resolve their titles.
Nothing is written to WordPress; the contract cache is updated.

Examples:
  esisync contracts
  esisync contracts --json`,
	Args: cobra.NoArgs,
	RunE: runContracts,
}

func init() {
	contractsCmd.Flags().BoolVar(&contractsJSON, "json", false, "print resolved contracts as JSON")
}

func runContracts(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	report, err := a.pipeline.Run(ctx, nil, service.RunOptions{Sources: a.sources(), SkipSync: true})
	if report == nil {
		return err
	}

	if contractsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report.Contracts); encErr != nil {
			return encErr
		}
	} else {
		fmt.Print(renderContracts(report.Contracts))
		for _, e := range report.SourceErrors {
			fmt.Fprintln(os.Stderr, defaultTheme.errorStyle().Render(fmt.Sprintf("%s %d failed: %s", e.Source, e.ID, e.Err)))
		}
		if len(report.Review) > 0 {
			fmt.Println(defaultTheme.warningStyle().Render(fmt.Sprintf("\nNeeds review (%d):", len(report.Review))))
			for _, item := range report.Review {
				fmt.Println("  • " + reviewLine(item))
			}
		}
	}
	return err
}
