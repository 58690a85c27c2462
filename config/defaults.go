package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "quotra.db")

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_seconds", 1)
	v.SetDefault("scheduler.default_interval_seconds", 60)

	// Fetch defaults
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.max_requests_per_minute", 30) // polite to upstream APIs
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path (dev mode override)
	v.BindEnv("database.path", "QUOTRA_DATABASE_PATH")
}
