// Package config loads the Quotra configuration: database location,
// scheduler behavior, fetch limits, and the source registry definitions.
package config

// Config represents the core Quotra configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures the poll scheduler
type SchedulerConfig struct {
	// How often the ticker checks for due sources (default: 1)
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`
	// Polling interval applied to sources that don't set their own (default: 60)
	DefaultIntervalSeconds int `mapstructure:"default_interval_seconds"`
}

// FetchConfig configures upstream HTTP fetches
type FetchConfig struct {
	// Per-call timeout for one source fetch (default: 15)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// Per-source rate limit; 0 disables limiting (default: 30)
	MaxRequestsPerMinute int `mapstructure:"max_requests_per_minute"`
}

// SourceConfig defines one upstream market-data source.
// Immutable at runtime; loaded once at startup into the feed registry.
type SourceConfig struct {
	ID  string `mapstructure:"id"`
	URL string `mapstructure:"url"`

	// Response shape: "object", "array", or "wrapped" ({data: [...]})
	Format string `mapstructure:"format"`
	// Path to the collection inside a wrapped response (default: "data",
	// with a case-insensitive fallback to "Data")
	CollectionPath string `mapstructure:"collection_path"`

	// Projected field whose value identifies an entity within this source
	NaturalKey string `mapstructure:"natural_key"`

	// Per-source polling interval; 0 means scheduler default
	IntervalSeconds int `mapstructure:"interval_seconds"`

	// Field projection rules; fields not listed here are dropped
	Fields []FieldConfig `mapstructure:"fields"`

	// Names of projected fields that participate in change detection.
	// Empty means all projected fields are compared.
	Compare []string `mapstructure:"compare"`
}

// FieldConfig declares one projected field for a source
type FieldConfig struct {
	// Target name in the normalized record
	Name string `mapstructure:"name"`
	// Dot-separated path into the raw response item; defaults to Name
	Path string `mapstructure:"path"`
	// Coercion: "string", "number", "bool", or "raw" (default: "raw")
	Type string `mapstructure:"type"`
	// Items missing a required field are skipped (logged), others proceed
	Required bool `mapstructure:"required"`
}
