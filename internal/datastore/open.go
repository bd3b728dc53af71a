package datastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/your-org/adx-trend-bot/internal/config"
)

// Open connects the Store selected by cfg.Driver. Postgres migrations run
// first when cfg.Migrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "postgres":
		pool, err := OpenPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return NewRepository(pool, logger), nil
	case "sqlite":
		return OpenSQLite(cfg.Path, logger)
	case "memory", "":
		return NewInMemRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenPostgres migrates (when enabled) and connects a pgx pool.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if bool(cfg.Migrate) {
		if err := Migrate(cfg.URL(), logger); err != nil {
			return nil, err
		}
	}
	pool, err := pgxpool.New(ctx, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return pool, nil
}
