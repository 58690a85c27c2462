package logger

// Standard field names for consistent structured logging across Quotra.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldSourceID = "source_id"
	FieldRunID    = "run_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldURL    = "url"
	FieldMethod = "method"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldInterval   = "interval"
	FieldLastRunAt  = "last_run_at"
	FieldNextRunAt  = "next_run_at"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount          = "count"
	FieldExtractCount   = "extract_count"
	FieldTransformCount = "transform_count"
	FieldLoadCount      = "load_count"
	FieldNewCount       = "new_count"
	FieldUpdatedCount   = "updated_count"
	FieldUnchangedCount = "unchanged_count"
	FieldSkippedCount   = "skipped_count"
	FieldAnonCount      = "anon_count"
	FieldItemIndex      = "item_index"

	// Status
	FieldStatus     = "status"
	FieldHTTPStatus = "http_status"
	FieldDelta      = "delta"

	// Records
	FieldPrimaryKey = "primary_key"
	FieldNaturalKey = "natural_key"
)
