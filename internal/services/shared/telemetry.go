package shared

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time assertion that AppTelemetry implements SyncMetrics.
var _ outbound.SyncMetrics = (*AppTelemetry)(nil)

const (
	// instrumentationName is the name used for OpenTelemetry instrumentation.
	instrumentationName = "github.com/archon-research/stl/stl-balances/internal/services"
)

// AppTelemetry provides OpenTelemetry metrics for balance sync domain events.
// Adapter-level concerns (HTTP latency, RPC errors) are recorded by the adapters.
type AppTelemetry struct {
	meter metric.Meter

	syncDuration        metric.Float64Histogram
	syncsTotal          metric.Int64Counter
	degradedUnits       metric.Int64Counter
	ledgerFailures      metric.Int64Counter
	anchorSubstitutions metric.Int64Counter
	priceBatches        metric.Int64Counter
	cacheLookups        metric.Int64Counter
}

// NewAppTelemetry creates a new AppTelemetry instance with OpenTelemetry instrumentation.
// Uses the global meter provider by default.
func NewAppTelemetry() (*AppTelemetry, error) {
	return NewAppTelemetryWithProvider(otel.GetMeterProvider())
}

// NewAppTelemetryWithProvider creates a new AppTelemetry instance with a custom meter provider.
func NewAppTelemetryWithProvider(mp metric.MeterProvider) (*AppTelemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &AppTelemetry{meter: meter}

	var err error

	t.syncDuration, err = meter.Float64Histogram(
		"balances.sync.duration",
		metric.WithDescription("Duration of one wallet sync"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	t.syncsTotal, err = meter.Int64Counter(
		"balances.sync.total",
		metric.WithDescription("Wallet syncs completed, labelled by whether they degraded"),
	)
	if err != nil {
		return nil, err
	}

	t.degradedUnits, err = meter.Int64Counter(
		"balances.sync.degraded_units",
		metric.WithDescription("Units of work that failed and were degraded during syncs"),
	)
	if err != nil {
		return nil, err
	}

	t.ledgerFailures, err = meter.Int64Counter(
		"balances.ledger.failures",
		metric.WithDescription("Ledger queries that failed and were counted as zero"),
	)
	if err != nil {
		return nil, err
	}

	t.anchorSubstitutions, err = meter.Int64Counter(
		"balances.anchor.substitutions",
		metric.WithDescription("Times the anchor probe replaced a zero fan-out total"),
	)
	if err != nil {
		return nil, err
	}

	t.priceBatches, err = meter.Int64Counter(
		"balances.price.batches",
		metric.WithDescription("Price batches executed, labelled by outcome"),
	)
	if err != nil {
		return nil, err
	}

	t.cacheLookups, err = meter.Int64Counter(
		"balances.cache.lookups",
		metric.WithDescription("Cache lookups, labelled by concern and hit"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// RecordSync records one wallet sync.
func (t *AppTelemetry) RecordSync(ctx context.Context, chainCode string, duration time.Duration, errorCount int) {
	attrs := metric.WithAttributes(
		attribute.String("chain", chainCode),
		attribute.Bool("degraded", errorCount > 0),
	)
	t.syncDuration.Record(ctx, duration.Seconds(), attrs)
	t.syncsTotal.Add(ctx, 1, attrs)
	if errorCount > 0 {
		t.degradedUnits.Add(ctx, int64(errorCount), metric.WithAttributes(attribute.String("chain", chainCode)))
	}
}

// RecordLedgerFailure records a failed ledger query.
func (t *AppTelemetry) RecordLedgerFailure(ctx context.Context, chainCode string, ledger int) {
	t.ledgerFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain", chainCode),
		attribute.Int("ledger", ledger),
	))
}

// RecordAnchorSubstitution records the anchor heuristic firing.
func (t *AppTelemetry) RecordAnchorSubstitution(ctx context.Context, chainCode string) {
	t.anchorSubstitutions.Add(ctx, 1, metric.WithAttributes(attribute.String("chain", chainCode)))
}

// RecordPriceBatch records one price batch outcome.
func (t *AppTelemetry) RecordPriceBatch(ctx context.Context, provider string, size int, ok bool) {
	t.priceBatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("ok", ok),
		attribute.Int("size", size),
	))
}

// RecordCacheLookup records a cache hit or miss.
func (t *AppTelemetry) RecordCacheLookup(ctx context.Context, concern string, hit bool) {
	t.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("concern", concern),
		attribute.Bool("hit", hit),
	))
}
