package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quotra/quotra/cmd/quotra/commands"
	"github.com/quotra/quotra/logger"
)

var rootCmd = &cobra.Command{
	Use:   "quotra",
	Short: "Quotra - Market-data ingestion pipeline",
	Long: `Quotra - scheduled market-data ingestion with change detection.

Quotra polls configured upstream price feeds, normalizes their responses,
classifies each record as new, updated, or unchanged against persisted
state, and stores results idempotently with monotonic per-source counters.

Available commands:
  daemon  - Start the polling daemon
  run     - Run the pipeline once for one or all sources
  status  - Show source counters and recent runs
  cleanup - Delete old run history
  version - Show version information

Examples:
  quotra daemon                 # Poll all sources on their intervals
  quotra run coingecko          # One-shot run of a single source
  quotra status                 # Counters for every source
  quotra cleanup --days 7       # Prune week-old run history`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.InitializeWithVerbosity(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: discovered quotra.toml)")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.CleanupCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
