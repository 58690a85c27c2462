package ingest

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/quotra/quotra/errors"
)

// priorLookupChunkSize bounds the number of bound parameters per IN
// query; SQLite's default variable limit is 999.
const priorLookupChunkSize = 500

// Store handles persistence of runs, records, and counters. All mutation
// goes through keyed upserts and additive counter increments, which are
// safe under concurrent source runs and under retried calls.
type Store struct {
	db *sql.DB
}

// NewStore creates a new ingest store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// PriorChecksums batch-fetches the persisted checksum for each of the
// given primary keys. Keys with no prior record are absent from the map.
func (s *Store) PriorChecksums(sourceID string, keys []string) (map[string]string, error) {
	prior := make(map[string]string, len(keys))

	for start := 0; start < len(keys); start += priorLookupChunkSize {
		end := start + priorLookupChunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]

		query := `SELECT primary_key, checksum FROM feed_records
			WHERE source_id = ? AND primary_key IN (` + placeholders + `)`

		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, sourceID)
		for _, key := range chunk {
			args = append(args, key)
		}

		rows, err := s.db.Query(query, args...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to query prior checksums")
		}

		for rows.Next() {
			var key, checksum string
			if err := rows.Scan(&key, &checksum); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "failed to scan prior checksum")
			}
			prior[key] = checksum
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "error iterating prior checksums")
		}
		rows.Close()
	}

	return prior, nil
}

// UpsertRecord writes one new/updated record into the granular view.
// The keyed upsert makes retries idempotent: re-submitting the same
// record overwrites with identical data instead of duplicating a row.
func (s *Store) UpsertRecord(rec *DeltaRecord, runID string, now time.Time) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(err, "failed to marshal record fields")
	}

	query := `
		INSERT INTO feed_records (
			primary_key, source_id, natural_key, fields, checksum,
			delta_type, run_id, item_index, first_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(primary_key) DO UPDATE SET
			fields = excluded.fields,
			checksum = excluded.checksum,
			delta_type = excluded.delta_type,
			run_id = excluded.run_id,
			item_index = excluded.item_index,
			updated_at = excluded.updated_at
	`

	ts := now.UTC().Format(time.RFC3339)
	_, err = s.db.Exec(query,
		rec.PrimaryKey,
		rec.SourceID,
		rec.NaturalKey,
		string(fieldsJSON),
		rec.Checksum,
		string(rec.Delta),
		runID,
		rec.ItemIndex,
		ts,
		ts,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert record %s", rec.PrimaryKey)
	}

	return nil
}

// RecordRun inserts the aggregate view row for one run
func (s *Store) RecordRun(run *Run) error {
	query := `
		INSERT INTO ingest_runs (
			id, source_id, status, http_status, duration_ms, raw_payload,
			extract_count, new_count, updated_count, unchanged_count,
			skipped_count, anon_count, load_count, error,
			started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var httpStatus interface{}
	if run.HTTPStatus != 0 {
		httpStatus = run.HTTPStatus
	}
	var rawPayload interface{}
	if len(run.RawPayload) > 0 {
		rawPayload = string(run.RawPayload)
	}
	var runErr interface{}
	if run.Error != "" {
		runErr = run.Error
	}
	var completedAt interface{}
	if run.CompletedAt != nil {
		completedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.db.Exec(query,
		run.ID,
		run.SourceID,
		run.Status,
		httpStatus,
		run.DurationMs,
		rawPayload,
		run.ExtractCount,
		run.NewCount,
		run.UpdatedCount,
		run.UnchangedCount,
		run.SkippedCount,
		run.AnonCount,
		run.LoadCount,
		runErr,
		run.StartedAt.UTC().Format(time.RFC3339),
		completedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to record run %s", run.ID)
	}

	return nil
}

// AddCounters adds a run's per-run deltas to the monotonic source
// counters. The increment is additive (counter = counter + delta), never
// an absolute set, so a retried run cannot regress counters relative to
// records actually persisted.
func (s *Store) AddCounters(sourceID string, extract, transform, load int64, lastRun time.Time) error {
	query := `
		INSERT INTO source_counters (
			source_id, extract_count, transform_count, load_count,
			last_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			extract_count = extract_count + excluded.extract_count,
			transform_count = transform_count + excluded.transform_count,
			load_count = load_count + excluded.load_count,
			last_run_at = excluded.last_run_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(query,
		sourceID,
		extract,
		transform,
		load,
		lastRun.UTC().Format(time.RFC3339),
		now,
		now,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update counters for %s", sourceID)
	}

	return nil
}

// GetCounters retrieves the counters for one source
func (s *Store) GetCounters(sourceID string) (*Counters, error) {
	query := `
		SELECT source_id, extract_count, transform_count, load_count,
		       last_run_at, created_at, updated_at
		FROM source_counters
		WHERE source_id = ?
	`

	var c Counters
	var lastRunAt sql.NullString
	var createdAt, updatedAt string

	err := s.db.QueryRow(query, sourceID).Scan(
		&c.SourceID,
		&c.ExtractCount,
		&c.TransformCount,
		&c.LoadCount,
		&lastRunAt,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("no counters for source %s", sourceID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get counters for %s", sourceID)
	}

	if err := parseCounterTimes(&c, lastRunAt, createdAt, updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

// ListCounters returns counters for every source seen so far
func (s *Store) ListCounters() ([]*Counters, error) {
	query := `
		SELECT source_id, extract_count, transform_count, load_count,
		       last_run_at, created_at, updated_at
		FROM source_counters
		ORDER BY source_id ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list counters")
	}
	defer rows.Close()

	var all []*Counters
	for rows.Next() {
		var c Counters
		var lastRunAt sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(
			&c.SourceID,
			&c.ExtractCount,
			&c.TransformCount,
			&c.LoadCount,
			&lastRunAt,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan counters")
		}
		if err := parseCounterTimes(&c, lastRunAt, createdAt, updatedAt); err != nil {
			return nil, err
		}
		all = append(all, &c)
	}

	return all, rows.Err()
}

func parseCounterTimes(c *Counters, lastRunAt sql.NullString, createdAt, updatedAt string) error {
	var err error
	if lastRunAt.Valid {
		t, err := time.Parse(time.RFC3339, lastRunAt.String)
		if err != nil {
			return errors.Wrapf(err, "failed to parse last_run_at for %s", c.SourceID)
		}
		c.LastRunAt = &t
	}
	c.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return errors.Wrapf(err, "failed to parse created_at for %s", c.SourceID)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed to parse updated_at for %s", c.SourceID)
	}
	return nil
}

// GetRecord retrieves one granular record by primary key
func (s *Store) GetRecord(primaryKey string) (*StoredRecord, error) {
	query := `
		SELECT primary_key, source_id, natural_key, fields, checksum,
		       delta_type, run_id, item_index, first_seen_at, updated_at
		FROM feed_records
		WHERE primary_key = ?
	`

	rec, err := scanStoredRecord(s.db.QueryRow(query, primaryKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("record not found: %s", primaryKey)
	}
	return rec, err
}

// ListRecordsBySource returns the granular records for one source,
// most recently updated first
func (s *Store) ListRecordsBySource(sourceID string, limit int) ([]*StoredRecord, error) {
	query := `
		SELECT primary_key, source_id, natural_key, fields, checksum,
		       delta_type, run_id, item_index, first_seen_at, updated_at
		FROM feed_records
		WHERE source_id = ?
		ORDER BY updated_at DESC, primary_key ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, sourceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list records")
	}
	defer rows.Close()

	var records []*StoredRecord
	for rows.Next() {
		rec, err := scanStoredRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStoredRecord(row scanner) (*StoredRecord, error) {
	var rec StoredRecord
	var fieldsJSON, firstSeenAt, updatedAt string
	var delta string

	err := row.Scan(
		&rec.PrimaryKey,
		&rec.SourceID,
		&rec.NaturalKey,
		&fieldsJSON,
		&rec.Checksum,
		&delta,
		&rec.RunID,
		&rec.ItemIndex,
		&firstSeenAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan record")
	}

	rec.Delta = DeltaType(delta)
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, errors.Wrapf(err, "failed to parse fields for %s", rec.PrimaryKey)
	}
	rec.FirstSeenAt, err = time.Parse(time.RFC3339, firstSeenAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse first_seen_at for %s", rec.PrimaryKey)
	}
	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for %s", rec.PrimaryKey)
	}

	return &rec, nil
}

// ListRuns returns the aggregate run rows for one source, newest first
func (s *Store) ListRuns(sourceID string, limit int) ([]*Run, error) {
	query := `
		SELECT id, source_id, status, http_status, duration_ms, raw_payload,
		       extract_count, new_count, updated_count, unchanged_count,
		       skipped_count, anon_count, load_count, error,
		       started_at, completed_at
		FROM ingest_runs
		WHERE source_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, sourceID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var httpStatus sql.NullInt64
		var rawPayload, runErr, completedAt sql.NullString
		var startedAt string

		if err := rows.Scan(
			&run.ID,
			&run.SourceID,
			&run.Status,
			&httpStatus,
			&run.DurationMs,
			&rawPayload,
			&run.ExtractCount,
			&run.NewCount,
			&run.UpdatedCount,
			&run.UnchangedCount,
			&run.SkippedCount,
			&run.AnonCount,
			&run.LoadCount,
			&runErr,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}

		if httpStatus.Valid {
			run.HTTPStatus = int(httpStatus.Int64)
		}
		if rawPayload.Valid {
			run.RawPayload = []byte(rawPayload.String)
		}
		if runErr.Valid {
			run.Error = runErr.String
		}
		run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse started_at for run %s", run.ID)
		}
		if completedAt.Valid {
			t, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse completed_at for run %s", run.ID)
			}
			run.CompletedAt = &t
		}

		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// CleanupOldRuns removes aggregate run rows older than the specified
// duration. Counters and the granular view are never cleaned: counters
// are monotonic for the lifetime of a source, and records are current state.
func (s *Store) CleanupOldRuns(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)

	result, err := s.db.Exec(`DELETE FROM ingest_runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old runs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}
