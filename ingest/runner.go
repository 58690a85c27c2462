package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotra/quotra/feed"
	"github.com/quotra/quotra/internal/util"
	"github.com/quotra/quotra/logger"
)

// Runner executes the full pipeline for one source: fetch, normalize,
// classify, persist. One Runner is shared by all source runs; it holds
// no per-run state and is safe for concurrent use.
type Runner struct {
	fetcher    *feed.Fetcher
	normalizer *Normalizer
	classifier *Classifier
	store      *Store
	logger     *zap.SugaredLogger
}

// NewRunner creates a pipeline runner
func NewRunner(fetcher *feed.Fetcher, store *Store, log *zap.SugaredLogger) *Runner {
	return &Runner{
		fetcher:    fetcher,
		normalizer: NewNormalizer(log),
		classifier: NewClassifier(store, log),
		store:      store,
		logger:     log,
	}
}

// Run executes one pipeline run for one source. The context bounds the
// fetch; persistence completes even if the deadline passes mid-write so
// counters never diverge from written records.
//
// Failures are contained at the narrowest possible scope. A failed run
// never touches the counters, lastRunAt included.
func (r *Runner) Run(ctx context.Context, src *feed.Source) (*Run, error) {
	started := time.Now()
	run := &Run{
		ID:        uuid.NewString(),
		SourceID:  src.ID,
		StartedAt: started,
	}

	resp, err := r.fetcher.Fetch(ctx, src)
	if resp != nil {
		run.HTTPStatus = resp.HTTPStatus
		run.RawPayload = resp.Body
	}
	if err != nil {
		return r.failRun(run, started, err)
	}

	records, skipped, err := r.normalizer.Normalize(src, resp.Body)
	if err != nil {
		return r.failRun(run, started, err)
	}
	run.SkippedCount = skipped
	run.ExtractCount = len(records)

	deltas, err := r.classifier.Classify(src, records)
	if err != nil {
		return r.failRun(run, started, err)
	}

	// Persist new/updated records in response order; unchanged records
	// are counted but never written. A single failed write is dropped
	// and logged, and the counters below only reflect confirmed writes.
	now := time.Now()
	for _, d := range deltas {
		switch d.Delta {
		case DeltaNew:
			run.NewCount++
		case DeltaUpdated:
			run.UpdatedCount++
		default:
			run.UnchangedCount++
			continue
		}
		if d.Anon {
			run.AnonCount++
		}

		if err := r.store.UpsertRecord(d, run.ID, now); err != nil {
			r.logger.Errorw("Failed to persist record; dropping",
				logger.FieldSourceID, src.ID,
				logger.FieldPrimaryKey, d.PrimaryKey,
				logger.FieldRunID, run.ID,
				logger.FieldError, err)
			continue
		}
		run.LoadCount++
	}

	run.Status = RunStatusCompleted
	run.DurationMs = int(time.Since(started).Milliseconds())
	run.CompletedAt = util.Ptr(time.Now())

	if err := r.store.RecordRun(run); err != nil {
		r.logger.Errorw("Failed to record run",
			logger.FieldSourceID, src.ID,
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
	}

	// A run with zero records still advances lastRunAt; an empty
	// response is a successful poll, not an error.
	transform := int64(run.NewCount + run.UpdatedCount)
	if err := r.store.AddCounters(src.ID, int64(run.ExtractCount), transform, int64(run.LoadCount), started); err != nil {
		r.logger.Errorw("Failed to update counters",
			logger.FieldSourceID, src.ID,
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
		return run, err
	}

	r.logger.Infow("Run completed",
		logger.FieldSourceID, src.ID,
		logger.FieldRunID, run.ID,
		logger.FieldExtractCount, run.ExtractCount,
		logger.FieldNewCount, run.NewCount,
		logger.FieldUpdatedCount, run.UpdatedCount,
		logger.FieldUnchangedCount, run.UnchangedCount,
		logger.FieldSkippedCount, run.SkippedCount,
		logger.FieldLoadCount, run.LoadCount,
		logger.FieldDurationMS, run.DurationMs)

	return run, nil
}

// failRun records a failed run row and returns the error. Counters,
// including lastRunAt, are deliberately untouched: a failed tick adds
// nothing.
func (r *Runner) failRun(run *Run, started time.Time, cause error) (*Run, error) {
	run.Status = RunStatusFailed
	run.Error = cause.Error()
	run.DurationMs = int(time.Since(started).Milliseconds())
	run.CompletedAt = util.Ptr(time.Now())

	if err := r.store.RecordRun(run); err != nil {
		r.logger.Errorw("Failed to record failed run",
			logger.FieldSourceID, run.SourceID,
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
	}

	r.logger.Warnw("Run failed",
		logger.FieldSourceID, run.SourceID,
		logger.FieldRunID, run.ID,
		logger.FieldHTTPStatus, run.HTTPStatus,
		logger.FieldDurationMS, run.DurationMs,
		logger.FieldError, cause)

	return run, cause
}
