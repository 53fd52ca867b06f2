package shared

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// JSONCache stores JSON-encoded values in an outbound.Cache.
//
// Cache failures never fail the caller: read errors and undecodable entries
// count as misses, write errors are logged. A nil backing cache makes every
// lookup a miss.
type JSONCache struct {
	cache   outbound.Cache
	metrics outbound.SyncMetrics
	logger  *slog.Logger
}

// NewJSONCache wraps cache. metrics and logger may be nil.
func NewJSONCache(cache outbound.Cache, metrics outbound.SyncMetrics, logger *slog.Logger) *JSONCache {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = outbound.NopSyncMetrics{}
	}
	return &JSONCache{
		cache:   cache,
		metrics: metrics,
		logger:  logger.With("component", "json-cache"),
	}
}

// Get decodes the entry for key into v and reports whether it was a hit.
func (c *JSONCache) Get(ctx context.Context, concern, key string, v any) bool {
	if c == nil || c.cache == nil {
		return false
	}

	data, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
		c.metrics.RecordCacheLookup(ctx, concern, false)
		return false
	}
	if data == nil {
		c.metrics.RecordCacheLookup(ctx, concern, false)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		_ = c.cache.Delete(ctx, key)
		c.metrics.RecordCacheLookup(ctx, concern, false)
		return false
	}

	c.metrics.RecordCacheLookup(ctx, concern, true)
	return true
}

// Set encodes v under key for ttl.
func (c *JSONCache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.cache.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Delete removes keys, logging failures.
func (c *JSONCache) Delete(ctx context.Context, keys ...string) {
	if c == nil || c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		c.logger.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// DeletePrefix removes every key with the given prefix.
func (c *JSONCache) DeletePrefix(ctx context.Context, prefix string) int {
	if c == nil || c.cache == nil {
		return 0
	}
	n, err := c.cache.DeletePrefix(ctx, prefix)
	if err != nil {
		c.logger.Warn("cache prefix delete failed", "prefix", prefix, "error", err)
	}
	return n
}

// Loader produces a fresh value. cacheable=false keeps a degraded value out
// of the cache while still returning it.
type Loader[T any] func(ctx context.Context) (value T, cacheable bool, err error)

// Fetch is the read-through path shared by every cached concern.
//
// Without force a hit is returned as-is and load is not called. With force
// the cache is not read; a successful load overwrites the entry and a failed
// load returns the error, never the previously cached value.
func Fetch[T any](ctx context.Context, c *JSONCache, concern, key string, ttl time.Duration, force bool, load Loader[T]) (T, bool, error) {
	if !force {
		var cached T
		if c.Get(ctx, concern, key, &cached) {
			return cached, true, nil
		}
	}

	value, cacheable, err := load(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if cacheable {
		c.Set(ctx, key, value, ttl)
	}
	return value, false, nil
}
