package commands

import (
	"database/sql"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotra/quotra/config"
	"github.com/quotra/quotra/db"
	"github.com/quotra/quotra/errors"
	"github.com/quotra/quotra/feed"
	"github.com/quotra/quotra/ingest"
	"github.com/quotra/quotra/internal/httpclient"
	"github.com/quotra/quotra/logger"
)

// pipeline bundles the wired-up components every command needs
type pipeline struct {
	cfg      *config.Config
	database *sql.DB
	registry *feed.Registry
	store    *ingest.Store
	runner   *ingest.Runner
}

// loadConfig loads configuration, honoring the global --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

// buildPipeline loads config, opens and migrates the database, and wires
// the fetch/normalize/classify/persist chain. Callers must close the
// pipeline when done.
func buildPipeline(cmd *cobra.Command) (*pipeline, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, err
	}

	registry, err := feed.NewRegistry(cfg, logger.Logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	timeout := time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second
	client := httpclient.NewSaferClient(timeout)
	fetcher := feed.NewFetcher(client, cfg.Fetch.MaxRequestsPerMinute, logger.Logger)

	store := ingest.NewStore(database)

	return &pipeline{
		cfg:      cfg,
		database: database,
		registry: registry,
		store:    store,
		runner:   ingest.NewRunner(fetcher, store, logger.Logger),
	}, nil
}

// close releases pipeline resources
func (p *pipeline) close() {
	if p.database != nil {
		p.database.Close()
	}
}
