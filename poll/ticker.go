// Package poll drives the ingestion schedule: a single ticker checks
// registered sources at a fixed granularity and launches due runs, each
// in its own goroutine so one slow or failing source never delays its
// siblings.
package poll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quotra/quotra/feed"
	"github.com/quotra/quotra/ingest"
	"github.com/quotra/quotra/logger"
)

// Ticker schedules per-source pipeline runs. Each source has its own
// polling interval; the ticker fires at a finer granularity and launches
// whichever sources are due.
type Ticker struct {
	registry     *feed.Registry
	runner       *ingest.Runner
	interval     time.Duration
	fetchTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *zap.SugaredLogger

	mu              sync.Mutex
	nextRun         map[string]time.Time
	inFlight        map[string]bool
	lastTickAt      time.Time
	ticksSinceStart int64
	overlapSkips    int64
}

// TickerConfig contains configuration for the poll ticker
type TickerConfig struct {
	Interval     time.Duration // scheduling granularity (default: 1 second)
	FetchTimeout time.Duration // upper bound on one source run
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:     1 * time.Second,
		FetchTimeout: 15 * time.Second,
	}
}

// NewTicker creates a new poll ticker over the registered sources
func NewTicker(registry *feed.Registry, runner *ingest.Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), registry, runner, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, registry *feed.Registry, runner *ingest.Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)

	t := &Ticker{
		registry:     registry,
		runner:       runner,
		interval:     cfg.Interval,
		fetchTimeout: cfg.FetchTimeout,
		ctx:          tickerCtx,
		cancel:       cancel,
		logger:       log,
		nextRun:      make(map[string]time.Time),
		inFlight:     make(map[string]bool),
	}

	// Every source is due immediately on startup
	now := time.Now()
	for _, src := range registry.All() {
		t.nextRun[src.ID] = now
	}

	return t
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("Poll ticker started",
		logger.FieldInterval, t.interval,
		"sources", t.registry.Len())
}

// Stop cancels the loop and waits for it to exit. In-flight source runs
// see their context cancelled and wind down through the runner's own
// failure path.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("Poll ticker stopped")
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.launchDue(tickTime)
		}
	}
}

// launchDue starts a run for every source whose interval has elapsed.
// A source whose previous run is still in flight is skipped for this
// tick, not queued: it becomes due again on the tick after the run
// finishes. Ticks are never blocked by a slow source.
func (t *Ticker) launchDue(tickTime time.Time) {
	for _, src := range t.registry.All() {
		t.mu.Lock()
		due := !tickTime.Before(t.nextRun[src.ID])
		if !due {
			t.mu.Unlock()
			continue
		}
		if t.inFlight[src.ID] {
			t.overlapSkips++
			t.mu.Unlock()
			t.logger.Warnw("Previous run still in flight; skipping tick",
				logger.FieldSourceID, src.ID,
				logger.FieldInterval, src.Interval)
			continue
		}
		t.inFlight[src.ID] = true
		t.nextRun[src.ID] = tickTime.Add(src.Interval)
		t.mu.Unlock()

		t.wg.Add(1)
		go t.runSource(src)
	}
}

// runSource executes one pipeline run for one source. Failures are
// logged and absorbed here; sibling sources are unaffected.
func (t *Ticker) runSource(src *feed.Source) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		t.inFlight[src.ID] = false
		t.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(t.ctx, t.fetchTimeout)
	defer cancel()

	if _, err := t.runner.Run(ctx, src); err != nil {
		t.logger.Warnw("Scheduled run failed",
			logger.FieldSourceID, src.ID,
			logger.FieldError, err)
	}
}

// Stats is a point-in-time snapshot of scheduler state
type Stats struct {
	LastTickAt      time.Time
	TicksSinceStart int64
	OverlapSkips    int64
	InFlight        int
}

// GetStats returns current scheduler statistics
func (t *Ticker) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	inFlight := 0
	for _, active := range t.inFlight {
		if active {
			inFlight++
		}
	}

	return Stats{
		LastTickAt:      t.lastTickAt,
		TicksSinceStart: t.ticksSinceStart,
		OverlapSkips:    t.overlapSkips,
		InFlight:        inFlight,
	}
}
