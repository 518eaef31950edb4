package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tradestream/internal/classify"
	"github.com/rickgao/tradestream/internal/config"
	"github.com/rickgao/tradestream/internal/retry"
)

// Connect creates a connection pool and waits until the database answers a
// ping. Ping failures are retried with the given options, so a journal can
// start while the database is still coming up.
func Connect(ctx context.Context, cfg config.DBConfig, appName string, opts retry.Options) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg, appName))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if opts.Annotations == nil {
		opts.Annotations = map[string]any{"db_host": cfg.Host, "db_name": cfg.Name}
	}
	if opts.OnRetry == nil {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		opts.OnRetry = func(attempt int, err *classify.Error) {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
		}
	}

	if err := retry.Run(ctx, pool.Ping, opts); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
