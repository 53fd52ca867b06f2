package telemetry

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

const instrumentationName = "github.com/archon-research/stl/stl-balances/internal/adapters/outbound/telemetry"

// AdapterMetrics records latency and failures of chain adapter calls.
type AdapterMetrics struct {
	latency metric.Float64Histogram
	calls   metric.Int64Counter
	tracer  trace.Tracer
}

// NewAdapterMetrics creates the instruments on the global meter provider.
func NewAdapterMetrics() (*AdapterMetrics, error) {
	return NewAdapterMetricsWithProvider(otel.GetMeterProvider(), otel.GetTracerProvider())
}

// NewAdapterMetricsWithProvider creates the instruments on the given providers.
func NewAdapterMetricsWithProvider(mp metric.MeterProvider, tp trace.TracerProvider) (*AdapterMetrics, error) {
	meter := mp.Meter(instrumentationName)

	latency, err := meter.Float64Histogram(
		"balances.adapter.duration",
		metric.WithDescription("Duration of one chain adapter call"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create balances.adapter.duration histogram: %w", err)
	}

	calls, err := meter.Int64Counter(
		"balances.adapter.calls",
		metric.WithDescription("Chain adapter calls by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create balances.adapter.calls counter: %w", err)
	}

	return &AdapterMetrics{
		latency: latency,
		calls:   calls,
		tracer:  tp.Tracer(instrumentationName),
	}, nil
}

// outcome classifies an adapter error for the status attribute.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case retry.IsPermanent(err):
		return "permanent"
	default:
		return "transient"
	}
}

func (m *AdapterMetrics) observe(ctx context.Context, chainCode, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	base := append([]attribute.KeyValue{
		attribute.String("chain", chainCode),
		attribute.String("operation", op),
	}, attrs...)

	ctx, span := m.tracer.Start(ctx, "adapter."+op, trace.WithAttributes(base...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	status := outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	m.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(base[0], base[1]))
	m.calls.Add(ctx, 1, metric.WithAttributes(base[0], base[1], attribute.String("status", status)))
	return err
}

// Instrument wraps adapter so every backend call is timed, counted and traced,
// and bounded by callTimeout when it is positive. Multi-ledger adapters stay
// multi-ledger. With neither metrics nor a timeout the adapter is returned as is.
func Instrument(adapter outbound.ChainAdapter, m *AdapterMetrics, callTimeout time.Duration) outbound.ChainAdapter {
	if m == nil && callTimeout <= 0 {
		return adapter
	}
	base := &instrumentedAdapter{inner: adapter, metrics: m, timeout: callTimeout, chainCode: adapter.Chain().Code}
	if ml, ok := adapter.(outbound.MultiLedgerAdapter); ok {
		return &instrumentedMultiLedger{instrumentedAdapter: base, inner: ml}
	}
	return base
}

type instrumentedAdapter struct {
	inner     outbound.ChainAdapter
	metrics   *AdapterMetrics
	timeout   time.Duration
	chainCode string
}

var (
	_ outbound.ChainAdapter       = (*instrumentedAdapter)(nil)
	_ outbound.MultiLedgerAdapter = (*instrumentedMultiLedger)(nil)
)

// observe runs one backend call under the per-call deadline.
func (a *instrumentedAdapter) observe(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(context.Context) error) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	if a.metrics == nil {
		return fn(ctx)
	}
	return a.metrics.observe(ctx, a.chainCode, op, attrs, fn)
}

func (a *instrumentedAdapter) Chain() entity.Chain { return a.inner.Chain() }

func (a *instrumentedAdapter) ValidateAddress(address string) error {
	return a.inner.ValidateAddress(address)
}

func (a *instrumentedAdapter) CanonicalAddress(address string) string {
	return a.inner.CanonicalAddress(address)
}

func (a *instrumentedAdapter) FetchNativeBalance(ctx context.Context, address string) (bal *big.Int, err error) {
	a.observe(ctx, "native_balance", nil, func(ctx context.Context) error {
		bal, err = a.inner.FetchNativeBalance(ctx, address)
		return err
	})
	return bal, err
}

func (a *instrumentedAdapter) FetchTokenBalances(ctx context.Context, address string) (tokens []entity.TokenBalance, err error) {
	a.observe(ctx, "token_balances", nil, func(ctx context.Context) error {
		tokens, err = a.inner.FetchTokenBalances(ctx, address)
		return err
	})
	return tokens, err
}

func (a *instrumentedAdapter) FetchTokenMetadata(ctx context.Context, tokenAddress string) (meta *entity.TokenMetadata, err error) {
	a.observe(ctx, "token_metadata", nil, func(ctx context.Context) error {
		meta, err = a.inner.FetchTokenMetadata(ctx, tokenAddress)
		return err
	})
	return meta, err
}

type instrumentedMultiLedger struct {
	*instrumentedAdapter
	inner outbound.MultiLedgerAdapter
}

func (a *instrumentedMultiLedger) Ledgers() []int { return a.inner.Ledgers() }

func (a *instrumentedMultiLedger) TokenModules() []entity.TokenMetadata {
	return a.inner.TokenModules()
}

func (a *instrumentedMultiLedger) FetchLedgerNativeBalance(ctx context.Context, ledger int, address string) (bal *big.Int, err error) {
	attrs := []attribute.KeyValue{attribute.String("ledger", strconv.Itoa(ledger))}
	a.observe(ctx, "ledger_native_balance", attrs, func(ctx context.Context) error {
		bal, err = a.inner.FetchLedgerNativeBalance(ctx, ledger, address)
		return err
	})
	return bal, err
}

func (a *instrumentedMultiLedger) FetchLedgerTokenBalance(ctx context.Context, ledger int, tokenAddress, address string) (bal *big.Int, err error) {
	attrs := []attribute.KeyValue{attribute.String("ledger", strconv.Itoa(ledger))}
	a.observe(ctx, "ledger_token_balance", attrs, func(ctx context.Context) error {
		bal, err = a.inner.FetchLedgerTokenBalance(ctx, ledger, tokenAddress, address)
		return err
	})
	return bal, err
}
