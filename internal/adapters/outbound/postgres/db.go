// Package postgres provides PostgreSQL adapters for the balance sync engine.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

// OpenPool builds a pool from cfg and pings it, retrying with backoff while
// the database is unreachable. The caller closes the pool.
func OpenPool(ctx context.Context, cfg PoolConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("parsing database URL: %w", err))
	}
	applyPoolConfig(poolCfg, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 5
	}
	backoff := retry.Config{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2,
	}.WithAttempts(attempts)

	err = retry.DoVoid(ctx, backoff, nil,
		func(attempt int, err error, wait time.Duration) {
			logger.Warn("database not reachable, retrying",
				"attempt", attempt, "backoff", wait, "error", err)
		},
		func() error { return pool.Ping(ctx) },
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func applyPoolConfig(poolCfg *pgxpool.Config, cfg PoolConfig) {
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	params := poolCfg.ConnConfig.RuntimeParams
	if cfg.ApplicationName != "" && params["application_name"] == "" {
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
}
