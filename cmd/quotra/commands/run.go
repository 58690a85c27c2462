package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotra/quotra/feed"
)

// RunCmd executes one pipeline run without starting the daemon
var RunCmd = &cobra.Command{
	Use:   "run [source-id...]",
	Short: "Run the ingestion pipeline once",
	Long: `Run the ingestion pipeline once for the named sources and exit.

With no arguments every registered source is run. Useful for testing a
new source definition or backfilling outside the daemon schedule.

Example:
  quotra run                # Run every source once
  quotra run coingecko      # Run a single source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd)
		if err != nil {
			return err
		}
		defer p.close()

		var sources []*feed.Source
		if len(args) == 0 {
			sources = p.registry.All()
		} else {
			for _, id := range args {
				src, err := p.registry.Get(id)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}
		}

		timeout := time.Duration(p.cfg.Fetch.TimeoutSeconds) * time.Second
		failures := 0
		for _, src := range sources {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			run, err := p.runner.Run(ctx, src)
			cancel()

			if err != nil {
				failures++
				fmt.Printf("%-20s FAILED   %s\n", src.ID, run.Error)
				continue
			}
			fmt.Printf("%-20s ok       extracted=%d new=%d updated=%d unchanged=%d skipped=%d loaded=%d (%dms)\n",
				src.ID, run.ExtractCount, run.NewCount, run.UpdatedCount,
				run.UnchangedCount, run.SkippedCount, run.LoadCount, run.DurationMs)
		}

		if failures > 0 {
			return fmt.Errorf("%d of %d sources failed", failures, len(sources))
		}
		return nil
	},
}

// CleanupCmd prunes old aggregate run rows
var CleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old run history",
	Long: `Delete aggregate run rows older than the retention window.

Current records and source counters are never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		p, err := buildPipeline(cmd)
		if err != nil {
			return err
		}
		defer p.close()

		deleted, err := p.store.CleanupOldRuns(time.Duration(days) * 24 * time.Hour)
		if err != nil {
			return err
		}

		fmt.Printf("Deleted %d run(s) older than %d day(s)\n", deleted, days)
		return nil
	},
}

func init() {
	CleanupCmd.Flags().Int("days", 30, "Delete runs older than this many days")
}
