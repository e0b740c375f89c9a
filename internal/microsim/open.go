package microsim

import (
	"context"
	"fmt"
	"os"

	"microsim/internal/config"
	"microsim/internal/core"
	"microsim/internal/observability"
	"microsim/pkg/dataset"
)

// FromConfig maps the simulation settings onto options. Zero values keep the
// defaults.
func FromConfig(cfg config.Simulation) []Option {
	return []Option{
		WithSeed(cfg.Seed),
		WithWorkers(cfg.DerivWorkers),
		WithGroupLimit(cfg.DerivGroupLimit),
		WithMaxDepth(cfg.MaxDepth),
	}
}

// Open loads the named dataset from store and runs base over it with the
// settings in cfg. The logger follows cfg.Log and writes to stderr. opts are
// applied after the configured settings and so take precedence.
func Open(ctx context.Context, cfg config.Config, store dataset.Store, name string, base *core.System, opts ...Option) (*Microsimulation, error) {
	if store == nil {
		return nil, fmt.Errorf("microsim: no dataset store")
	}
	logger, err := observability.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return nil, err
	}
	all := append([]Option{WithLogger(logger)}, FromConfig(cfg.Simulation)...)
	all = append(all, opts...)

	data, err := store.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", name, err)
	}
	o := defaultOptions()
	for _, opt := range all {
		opt(&o)
	}
	o.logger.Info("dataset loaded", "dataset", name, "driver", string(store.Driver()), "variables", len(data.Variables()))
	return New(ctx, base, data, all...)
}
