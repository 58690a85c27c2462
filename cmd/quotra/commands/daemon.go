package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotra/quotra/config"
	"github.com/quotra/quotra/logger"
	"github.com/quotra/quotra/poll"
)

// DaemonCmd starts the polling daemon
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the polling daemon",
	Long: `Start the Quotra polling daemon in foreground mode.

The daemon will:
- Poll every registered source on its configured interval
- Classify fetched records as new, updated, or unchanged
- Persist records idempotently and advance per-source counters
- Run until interrupted (Ctrl+C) with graceful shutdown

Example:
  quotra daemon                      # Start with discovered config
  quotra daemon --config quotra.toml # Start with an explicit config file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := buildPipeline(cmd)
		if err != nil {
			return err
		}
		defer p.close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		tickerCfg := poll.DefaultTickerConfig()
		if p.cfg.Scheduler.TickIntervalSeconds > 0 {
			tickerCfg.Interval = time.Duration(p.cfg.Scheduler.TickIntervalSeconds) * time.Second
		}
		if p.cfg.Fetch.TimeoutSeconds > 0 {
			tickerCfg.FetchTimeout = time.Duration(p.cfg.Fetch.TimeoutSeconds) * time.Second
		}

		ticker := poll.NewTickerWithContext(ctx, p.registry, p.runner, tickerCfg, logger.Logger)
		ticker.Start()

		// The source registry is immutable at runtime; a config edit takes
		// effect on restart. Watch the file so the operator is told.
		var watcher *config.Watcher
		if configPath := config.FindProjectConfig(); configPath != "" {
			watcher, err = config.NewWatcher(configPath)
			if err != nil {
				logger.Warnw("Config watcher unavailable", "path", configPath, "error", err)
			} else {
				watcher.OnChange(func(path string) {
					logger.Warnw("Config file changed; restart the daemon to apply",
						"path", path)
				})
				watcher.Start()
				defer watcher.Stop()
			}
		}

		fmt.Printf("Quotra daemon started\n")
		fmt.Printf("  Sources: %d\n", p.registry.Len())
		fmt.Printf("  Tick interval: %v\n", tickerCfg.Interval)
		fmt.Printf("  Fetch timeout: %v\n", tickerCfg.FetchTimeout)
		fmt.Printf("  Database: %s\n", p.cfg.Database.Path)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		ticker.Stop()

		stats := ticker.GetStats()
		fmt.Printf("Quotra daemon stopped (ticks: %d, overlap skips: %d)\n",
			stats.TicksSinceStart, stats.OverlapSkips)
		return nil
	},
}
