package feed

import (
	"time"

	"go.uber.org/zap"

	"github.com/quotra/quotra/config"
	"github.com/quotra/quotra/errors"
	"github.com/quotra/quotra/logger"
)

// Registry holds all registered sources. Built once at startup from
// configuration and never mutated afterwards, so no locking is needed.
type Registry struct {
	sources map[string]*Source
	ordered []*Source
}

// NewRegistry validates the configured sources and builds the registry
func NewRegistry(cfg *config.Config, log *zap.SugaredLogger) (*Registry, error) {
	defaultInterval := time.Duration(cfg.Scheduler.DefaultIntervalSeconds) * time.Second
	if defaultInterval <= 0 {
		defaultInterval = time.Minute
	}

	r := &Registry{
		sources: make(map[string]*Source, len(cfg.Sources)),
		ordered: make([]*Source, 0, len(cfg.Sources)),
	}

	for _, sc := range cfg.Sources {
		src, err := sourceFromConfig(sc, defaultInterval)
		if err != nil {
			return nil, err
		}
		if _, exists := r.sources[src.ID]; exists {
			return nil, errors.Wrapf(errors.ErrInvalidConfig, "duplicate source id %q", src.ID)
		}
		r.sources[src.ID] = src
		r.ordered = append(r.ordered, src)

		if !src.HasNaturalKey() && log != nil {
			// Without a natural key every record is always-insert; the
			// operator should know this source cannot be deduplicated.
			log.Warnw("Source has no natural key; records will never be deduplicated",
				logger.FieldSourceID, src.ID)
		}
	}

	if len(r.ordered) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidConfig, "no sources configured")
	}

	return r, nil
}

// Get returns the source with the given id
func (r *Registry) Get(id string) (*Source, error) {
	src, ok := r.sources[id]
	if !ok {
		return nil, errors.NewNotFoundError("source %q is not registered", id)
	}
	return src, nil
}

// All returns every registered source in configuration order
func (r *Registry) All() []*Source {
	return r.ordered
}

// Len returns the number of registered sources
func (r *Registry) Len() int {
	return len(r.ordered)
}
