package postgres

import "time"

// DefaultTokenBatchSize is the number of token rows written per statement.
// Each row binds 8 parameters, well under the protocol's 65535 limit.
const DefaultTokenBatchSize = 500

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	// URL is a postgres:// connection string.
	URL string

	// ApplicationName shows up in pg_stat_activity. Defaults to stl-balances.
	ApplicationName string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// StatementTimeout is set per session when positive.
	StatementTimeout time.Duration

	// ConnectAttempts bounds the startup ping loop, for databases that come
	// up alongside the worker. Defaults to 5.
	ConnectAttempts int
}

// PoolConfigFromURL returns the pool settings used by the worker and CLIs.
func PoolConfigFromURL(url string) PoolConfig {
	return PoolConfig{
		URL:              url,
		ApplicationName:  "stl-balances",
		MaxConns:         16,
		MinConns:         1,
		MaxConnLifetime:  30 * time.Minute,
		MaxConnIdleTime:  5 * time.Minute,
		StatementTimeout: 30 * time.Second,
		ConnectAttempts:  5,
	}
}
