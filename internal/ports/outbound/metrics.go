// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"time"
)

// SyncMetrics lets services record sync health without depending on a
// specific telemetry implementation. Implementations must be safe for
// concurrent use.
type SyncMetrics interface {
	// RecordSync records one wallet sync and how many units degraded.
	RecordSync(ctx context.Context, chainCode string, duration time.Duration, errorCount int)

	// RecordLedgerFailure records a ledger that failed and was counted as zero.
	RecordLedgerFailure(ctx context.Context, chainCode string, ledger int)

	// RecordAnchorSubstitution records the anchor probe replacing a zero total.
	RecordAnchorSubstitution(ctx context.Context, chainCode string)

	// RecordPriceBatch records the outcome of one price batch.
	RecordPriceBatch(ctx context.Context, provider string, size int, ok bool)

	// RecordCacheLookup records a cache hit or miss for a concern ("balance", "price", ...).
	RecordCacheLookup(ctx context.Context, concern string, hit bool)
}

// NopSyncMetrics discards everything.
type NopSyncMetrics struct{}

func (NopSyncMetrics) RecordSync(context.Context, string, time.Duration, int) {}
func (NopSyncMetrics) RecordLedgerFailure(context.Context, string, int) {}
func (NopSyncMetrics) RecordAnchorSubstitution(context.Context, string) {}
func (NopSyncMetrics) RecordPriceBatch(context.Context, string, int, bool) {}
func (NopSyncMetrics) RecordCacheLookup(context.Context, string, bool) {}
