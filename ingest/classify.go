package ingest

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotra/quotra/errors"
	"github.com/quotra/quotra/feed"
	"github.com/quotra/quotra/logger"
)

// Classifier annotates normalized records with their delta type by
// consulting persisted prior state. Prior state for a whole batch is
// fetched in one lookup, not one query per record.
type Classifier struct {
	store  *Store
	logger *zap.SugaredLogger
}

// NewClassifier creates a classifier backed by the given store
func NewClassifier(store *Store, log *zap.SugaredLogger) *Classifier {
	return &Classifier{store: store, logger: log}
}

// Classify computes primary key and checksum for each record in the
// batch and classifies it as new, updated, or unchanged. Input order is
// preserved.
//
// Records without a usable natural key cannot be safely deduplicated and
// fall back to always-insert: a synthetic '<source>:anon:<uuid>' key,
// classified new on every run. The fallback is surfaced with a warning so
// operators can see which sources lack reliable keys.
func (c *Classifier) Classify(src *feed.Source, records []*NormalizedRecord) ([]*DeltaRecord, error) {
	deltas := make([]*DeltaRecord, 0, len(records))
	keys := make([]string, 0, len(records))
	anon := 0

	for _, rec := range records {
		d := &DeltaRecord{
			NormalizedRecord: rec,
			Checksum:         FieldChecksum(rec.Fields, src.CompareFields),
		}

		if rec.NaturalKey == "" {
			d.PrimaryKey = fmt.Sprintf("%s:anon:%s", src.ID, uuid.NewString())
			d.Delta = DeltaNew
			d.Anon = true
			anon++
		} else {
			d.PrimaryKey = RecordKey(src.ID, rec.NaturalKey)
			keys = append(keys, d.PrimaryKey)
		}

		deltas = append(deltas, d)
	}

	if anon > 0 && c.logger != nil {
		c.logger.Warnw("Records lack a natural key; written under synthetic keys without deduplication",
			logger.FieldSourceID, src.ID,
			logger.FieldAnonCount, anon)
	}

	prior, err := c.store.PriorChecksums(src.ID, keys)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load prior state")
	}

	for _, d := range deltas {
		if d.Anon {
			continue
		}
		prevChecksum, exists := prior[d.PrimaryKey]
		switch {
		case !exists:
			d.Delta = DeltaNew
		case prevChecksum != d.Checksum:
			d.Delta = DeltaUpdated
		default:
			d.Delta = DeltaUnchanged
		}
	}

	return deltas, nil
}
