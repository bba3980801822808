package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/logsift/logsift/internal/analysis"
	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/store/memory"
	"github.com/logsift/logsift/internal/store/postgres"
	"github.com/logsift/logsift/internal/store/sqlite"
)

// Open builds the run store named by cfg.Backend. The caller owns the
// returned store and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (analysis.RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case "memory":
		logger.Info("using in-memory run store")
		return memory.New(), nil
	case "sqlite":
		logger.Info("using sqlite run store", zap.String("path", cfg.Path))
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		logger.Info("using postgres run store")
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
