package system

import (
	"context"

	"autolearn/internal/checkpoint"
	"autolearn/internal/config"
	"autolearn/internal/logging"
	"autolearn/internal/store"
	"autolearn/internal/usage"
)

// Inspect opens only what read-only commands need: the store, the
// checkpoint file, usage totals and the generator label. No embedding
// engine is built or health-checked, so a remote embedder being down does not
// block inspection. Planner, QA, Driver, Engine and sources stay nil.
func Inspect(ctx context.Context, cfg *config.Config) (*System, error) {
	return inspect(ctx, cfg, false)
}

func inspect(ctx context.Context, cfg *config.Config, skipLogging bool) (_ *System, err error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !skipLogging {
		if err := initLogging(cfg); err != nil {
			return nil, err
		}
	}

	sys := &System{Config: cfg}
	defer func() {
		if err != nil {
			sys.Close()
		}
	}()

	// Dimension 0 adopts whatever the database already holds.
	st, err := store.Open(ctx, store.Options{
		Path:        cfg.Store.DatabasePath,
		BusyTimeout: cfg.GetBusyTimeout(),
	})
	if err != nil {
		return nil, config.Wrap("store.database_path", err)
	}
	sys.Store = st
	sys.Checkpoints = checkpoint.NewFileStore(cfg.Checkpoint.Path)

	if cfg.Generator.UsageFile != "" {
		sys.Usage = usage.NewTracker(cfg.Generator.UsageFile)
	}
	if sys.Generator, err = buildGenerator(cfg, nil); err != nil {
		return nil, err
	}

	logging.Boot("Opened %s for inspection", st.Path())
	return sys, nil
}
