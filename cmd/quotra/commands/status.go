package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quotra/quotra/errors"
	"github.com/quotra/quotra/ingest"
)

// StatusCmd shows per-source counters and recent run history
var StatusCmd = &cobra.Command{
	Use:   "status [source-id]",
	Short: "Show source counters and recent runs",
	Long: `Show the monotonic counters for each source and its recent runs.

Counters only ever increase: extract is records seen, transform is
records classified new or updated, load is records persisted.

Example:
  quotra status             # All sources
  quotra status coingecko   # One source with run history
  quotra status --json      # Machine-readable output`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		p, err := buildPipeline(cmd)
		if err != nil {
			return err
		}
		defer p.close()

		if len(args) == 1 {
			return showSourceStatus(p, args[0], jsonOutput)
		}
		return showAllStatus(p, jsonOutput)
	},
}

func init() {
	StatusCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

func showAllStatus(p *pipeline, jsonOutput bool) error {
	counters, err := p.store.ListCounters()
	if err != nil {
		return err
	}

	if jsonOutput {
		output, err := json.MarshalIndent(counters, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format counters")
		}
		fmt.Println(string(output))
		return nil
	}

	if len(counters) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}

	fmt.Printf("%-20s %10s %10s %10s  %s\n", "SOURCE", "EXTRACT", "TRANSFORM", "LOAD", "LAST RUN")
	for _, c := range counters {
		lastRun := "never"
		if c.LastRunAt != nil {
			lastRun = c.LastRunAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-20s %10d %10d %10d  %s\n",
			c.SourceID, c.ExtractCount, c.TransformCount, c.LoadCount, lastRun)
	}
	return nil
}

func showSourceStatus(p *pipeline, sourceID string, jsonOutput bool) error {
	counters, err := p.store.GetCounters(sourceID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			// The source may be registered but never run
			if _, regErr := p.registry.Get(sourceID); regErr != nil {
				return regErr
			}
			fmt.Printf("%s: no runs recorded yet\n", sourceID)
			return nil
		}
		return err
	}

	runs, err := p.store.ListRuns(sourceID, 10)
	if err != nil {
		return err
	}

	if jsonOutput {
		output, err := json.MarshalIndent(map[string]interface{}{
			"counters":    counters,
			"recent_runs": runs,
		}, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format status")
		}
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("%s\n", sourceID)
	fmt.Printf("  extract:   %d\n", counters.ExtractCount)
	fmt.Printf("  transform: %d\n", counters.TransformCount)
	fmt.Printf("  load:      %d\n", counters.LoadCount)
	if counters.LastRunAt != nil {
		fmt.Printf("  last run:  %s\n", counters.LastRunAt.Local().Format("2006-01-02 15:04:05"))
	}

	if len(runs) > 0 {
		fmt.Printf("\nRecent runs:\n")
		for _, run := range runs {
			fmt.Println(statusLine(run))
		}
	}
	return nil
}

// statusLine renders one run for the status command
func statusLine(run *ingest.Run) string {
	when := run.StartedAt.Local().Format("2006-01-02 15:04:05")
	if run.Status == ingest.RunStatusFailed {
		return fmt.Sprintf("  %s  %-9s %s", when, run.Status, run.Error)
	}
	return fmt.Sprintf("  %s  %-9s new=%d updated=%d unchanged=%d loaded=%d (%dms)",
		when, run.Status, run.NewCount, run.UpdatedCount, run.UnchangedCount,
		run.LoadCount, run.DurationMs)
}
