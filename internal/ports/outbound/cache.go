package outbound

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry expiry.
// A miss is reported as (nil, nil).
type Cache interface {
	// Get returns the value for key, or nil if absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for ttl. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes every key starting with prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Close releases resources.
	Close() error
}
