// cache.go provides an in-memory implementation of the Cache port.
//
// Entries carry their own expiry. Reads treat expired entries as misses and a
// background janitor removes them periodically, so memory stays bounded by
// what was written within one TTL window.
//
// All operations are thread-safe. Data is lost on process restart; use the
// Redis adapter when several processes should share a cache.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that Cache implements outbound.Cache
var _ outbound.Cache = (*Cache)(nil)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means never
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is an in-memory TTL cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCache creates a cache whose janitor sweeps expired entries every
// sweepInterval. A non-positive interval disables the janitor.
func NewCache(sweepInterval time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.janitor(sweepInterval)
	} else {
		close(c.done)
	}
	return c
}

func (c *Cache) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Get returns a copy of the value or nil on miss or expiry.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.expired(c.now()) {
		return nil, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores a copy of value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	e := cacheEntry{value: stored}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Close stops the janitor and waits for it to exit.
func (c *Cache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

// SetClock replaces the time source (for testing).
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// GetAllKeys returns all cache keys, expired or not (for testing).
func (c *Cache) GetAllKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// GetEntryCount returns the number of stored entries (for testing).
func (c *Cache) GetEntryCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
