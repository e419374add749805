package main

import (
	"fmt"

	"github.com/ShayCichocki/cadre/internal/config"
	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/internal/workstore"
)

// openStore opens the WorkStore selected by cfg.Store.
func openStore(cfg *config.Config, dir string) (workstore.WorkStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return workstore.NewMemoryStore(), nil
	case config.BackendSQLite:
		path := storePath(cfg, dir)
		s, err := workstore.OpenSQLite(path, cfg.Store.Driver)
		if err != nil {
			return nil, fmt.Errorf("open workstore %s: %w", path, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func storePath(cfg *config.Config, dir string) string {
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return workstore.DefaultPath(dir)
}

// newHealth creates the orchestrator's health reporter with configured TTLs.
func newHealth(cfg *config.Config, store workstore.WorkStore) *health.AgentHealth {
	return health.New(store, orchestrator.AgentID,
		health.WithHeartbeatTTL(cfg.Health.HeartbeatTTL),
		health.WithStatusTTL(cfg.Health.StatusTTL),
		health.WithMetricsTTL(cfg.Health.MetricsTTL),
	)
}
