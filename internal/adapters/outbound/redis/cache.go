// Package redis provides a Redis implementation of the Cache port.
//
// Balances, prices and token metadata are stored as opaque bytes under
// prefix:key with a per-entry TTL, so several worker processes share one
// view of what was fetched recently.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that Cache implements outbound.Cache
var _ outbound.Cache = (*Cache)(nil)

// scanBatch is the COUNT hint used when walking keys for prefix deletes.
const scanBatch = 500

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "balances",
	}
}

// Cache is a Redis implementation of the outbound.Cache port.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewCache creates a new Redis cache. It does not dial; call Ping to verify connectivity.
func NewCache(cfg Config, logger *slog.Logger) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "redis-cache")

	return &Cache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger,
	}, nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(k string) string {
	if c.keyPrefix == "" {
		return k
	}
	return c.keyPrefix + ":" + k
}

// Get returns the cached bytes or nil on a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value for ttl.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// DeletePrefix walks matching keys with SCAN and deletes them in batches.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := c.key(prefix) + "*"
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	deleted := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	c.logger.Debug("deleted cache prefix", "prefix", prefix, "count", deleted)
	return deleted, nil
}
