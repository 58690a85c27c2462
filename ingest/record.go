// Package ingest implements the fetch → normalize → classify → persist
// pipeline: turning raw source responses into deduplicated records and
// monotonic per-source counters.
package ingest

import "time"

// DeltaType classifies a record relative to previously persisted state
type DeltaType string

const (
	// DeltaNew means no prior record exists for this primary key
	DeltaNew DeltaType = "new"
	// DeltaUpdated means a prior record exists with a different checksum
	DeltaUpdated DeltaType = "updated"
	// DeltaUnchanged means the prior checksum matches; never persisted
	DeltaUnchanged DeltaType = "unchanged"
)

// NormalizedRecord is one logical entity extracted from a source response.
// Ephemeral until classified.
type NormalizedRecord struct {
	SourceID   string
	NaturalKey string // empty when the source lacks a usable natural key
	Fields     map[string]interface{}
	ItemIndex  int // position within the response, for traceability
}

// DeltaRecord is a NormalizedRecord enriched with identity and
// classification. Two DeltaRecords with equal PrimaryKey and equal
// Checksum are always unchanged relative to each other, regardless of
// differences outside the comparison field set.
type DeltaRecord struct {
	*NormalizedRecord
	PrimaryKey string
	Checksum   string
	Delta      DeltaType
	Anon       bool // synthetic key: always-insert, never deduplicated
}

// Run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is the aggregate view: one row per execution of the pipeline for
// one source at one tick, holding the full raw payload for audit.
type Run struct {
	ID         string
	SourceID   string
	Status     string
	HTTPStatus int
	DurationMs int
	RawPayload []byte

	ExtractCount   int // all records seen, including unchanged
	NewCount       int
	UpdatedCount   int
	UnchangedCount int
	SkippedCount   int // items dropped during normalization
	AnonCount      int // records written under synthetic keys
	LoadCount      int // records confirmed written

	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Counters are the monotonic per-source pipeline counters. They only
// ever grow; runs add their own per-run deltas and never reset them.
type Counters struct {
	SourceID       string
	ExtractCount   int64
	TransformCount int64 // new + updated only
	LoadCount      int64 // records actually written
	LastRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StoredRecord is the granular view read back from persistence:
// one row per entity.
type StoredRecord struct {
	PrimaryKey  string
	SourceID    string
	NaturalKey  string
	Fields      map[string]interface{}
	Checksum    string
	Delta       DeltaType
	RunID       string
	ItemIndex   int
	FirstSeenAt time.Time
	UpdatedAt   time.Time
}
