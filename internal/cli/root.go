// Package cli provides the command-line interface for esisync.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/esisync/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config and logger
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "esisync",
	Short: "Mirror EVE Online contracts into WordPress",
	Long: `esisync pulls public and corporation contracts from ESI, resolves their
items into readable titles (blueprint originals and copies, efficiency, runs),
caches the resolution work, and upserts one WordPress record per contract.

Tracked regions and corporations are read from the tracking file
(ESISYNC_TRACKING_FILE, default ./tracking.yaml).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		opts := config.LogOptions{File: cfg.LogFile, Level: cfg.LogLevel}
		if verbose {
			opts.Level = slog.LevelDebug
		}
		if wantsProgressUI(cmd) {
			// Keep the progress display clean; everything still goes to the log file.
			opts.StderrLevel = slog.LevelError
		}
		logger, closeLog = config.SetupLogger(opts)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(contractsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(authCmd)
}

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// wantsProgressUI reports whether cmd will draw the live progress display:
// it has a --progress flag that is on, and stdout is a terminal.
func wantsProgressUI(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("progress")
	return f != nil && f.Value.String() == "true" && isTerminal()
}
