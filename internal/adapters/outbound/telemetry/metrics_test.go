package telemetry

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/testutil"
)

type fixture struct {
	reader  *sdkmetric.ManualReader
	spans   *tracetest.SpanRecorder
	metrics *AdapterMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	spans := tracetest.NewSpanRecorder()
	m, err := NewAdapterMetricsWithProvider(
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
	)
	if err != nil {
		t.Fatalf("NewAdapterMetricsWithProvider: %v", err)
	}
	return &fixture{reader: reader, spans: spans, metrics: m}
}

// callsByStatus sums balances.adapter.calls per status attribute.
func (f *fixture) callsByStatus(t *testing.T) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "balances.adapter.calls" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				status, _ := dp.Attributes.Value("status")
				out[status.AsString()] += dp.Value
			}
		}
	}
	return out
}

func TestInstrument_NilMetricsReturnsAdapter(t *testing.T) {
	inner := testutil.NewMockChainAdapter(entity.Chain{Code: "ETH"})
	if got := Instrument(inner, nil, 0); got != outbound.ChainAdapter(inner) {
		t.Error("expected the adapter unchanged")
	}
}

func TestInstrument_RecordsOutcomes(t *testing.T) {
	f := newFixture(t)
	inner := testutil.NewMockChainAdapter(entity.Chain{Code: "ETH", Family: entity.FamilyEVM})
	calls := 0
	inner.NativeBalanceFn = func(context.Context, string) (*big.Int, error) {
		calls++
		switch calls {
		case 1:
			return big.NewInt(42), nil
		case 2:
			return nil, errors.New("timeout")
		default:
			return nil, retry.Permanent(errors.New("bad address"))
		}
	}
	adapter := Instrument(inner, f.metrics, 0)
	if _, ok := adapter.(outbound.MultiLedgerAdapter); ok {
		t.Fatal("single-ledger adapter must not become multi-ledger")
	}

	bal, err := adapter.FetchNativeBalance(context.Background(), "0xabc")
	if err != nil || bal.Int64() != 42 {
		t.Fatalf("FetchNativeBalance = %v, %v", bal, err)
	}
	_, _ = adapter.FetchNativeBalance(context.Background(), "0xabc")
	if _, err := adapter.FetchNativeBalance(context.Background(), "0xabc"); !retry.IsPermanent(err) {
		t.Errorf("error classification must pass through, got %v", err)
	}

	got := f.callsByStatus(t)
	if got["ok"] != 1 || got["transient"] != 1 || got["permanent"] != 1 {
		t.Errorf("calls by status = %v", got)
	}
	if n := len(f.spans.Ended()); n != 3 {
		t.Errorf("spans = %d, want 3", n)
	}
	if adapter.CanonicalAddress("0xABC") != "0xabc" {
		t.Error("CanonicalAddress must delegate")
	}
}

func TestInstrument_MultiLedger(t *testing.T) {
	f := newFixture(t)
	chain := entity.Chain{Code: "KDA", Family: entity.FamilyKadena, Ledgers: []int{0, 1, 2}}
	inner := testutil.NewMockMultiLedgerAdapter(chain)
	inner.NativeByLedger[1] = big.NewInt(7)

	adapter, ok := Instrument(inner, f.metrics, 0).(outbound.MultiLedgerAdapter)
	if !ok {
		t.Fatal("multi-ledger adapter lost its interface")
	}
	if len(adapter.Ledgers()) != 3 {
		t.Errorf("Ledgers = %v", adapter.Ledgers())
	}
	bal, err := adapter.FetchLedgerNativeBalance(context.Background(), 1, "k:abc")
	if err != nil || bal.Int64() != 7 {
		t.Fatalf("FetchLedgerNativeBalance = %v, %v", bal, err)
	}

	spans := f.spans.Ended()
	if len(spans) != 1 || spans[0].Name() != "adapter.ledger_native_balance" {
		t.Fatalf("spans = %v", spans)
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "ledger" && kv.Value.AsString() == "1" {
			found = true
		}
	}
	if !found {
		t.Error("span missing ledger attribute")
	}
}

// ---------------------------------------------------------------------------
// Per-call timeout
// ---------------------------------------------------------------------------

func blockUntilDone(ctx context.Context, _ string) (*big.Int, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInstrument_TimeoutBoundsHungCalls(t *testing.T) {
	inner := testutil.NewMockChainAdapter(entity.Chain{Code: "ETH", Family: entity.FamilyEVM})
	inner.NativeBalanceFn = blockUntilDone

	adapter := Instrument(inner, nil, 50*time.Millisecond)
	if adapter == outbound.ChainAdapter(inner) {
		t.Fatal("a timeout alone must still wrap the adapter")
	}

	start := time.Now()
	_, err := adapter.FetchNativeBalance(context.Background(), "0xabc")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if retry.IsPermanent(err) {
		t.Error("a timed out call should stay transient")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call returned after %v", elapsed)
	}
}

func TestInstrument_TimeoutPerLedgerCall(t *testing.T) {
	f := newFixture(t)
	chain := entity.Chain{Code: "KDA", Family: entity.FamilyKadena, Ledgers: []int{0, 1}}
	inner := testutil.NewMockMultiLedgerAdapter(chain)
	inner.Delay = time.Minute

	adapter, ok := Instrument(inner, f.metrics, 50*time.Millisecond).(outbound.MultiLedgerAdapter)
	if !ok {
		t.Fatal("multi-ledger adapter lost its interface")
	}
	for _, ledger := range []int{0, 1} {
		if _, err := adapter.FetchLedgerNativeBalance(context.Background(), ledger, "k:abc"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("ledger %d err = %v, want deadline exceeded", ledger, err)
		}
	}
	if got := f.callsByStatus(t); got["transient"] != 2 {
		t.Errorf("calls by status = %v", got)
	}
}

func TestInstrument_TimeoutLeavesFastCallsAlone(t *testing.T) {
	inner := testutil.NewMockChainAdapter(entity.Chain{Code: "ETH", Family: entity.FamilyEVM})
	inner.NativeBalanceFn = func(ctx context.Context, _ string) (*big.Int, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline on the call context")
		}
		return big.NewInt(5), nil
	}
	bal, err := Instrument(inner, nil, time.Second).FetchNativeBalance(context.Background(), "0xabc")
	if err != nil || bal.Int64() != 5 {
		t.Fatalf("FetchNativeBalance = %v, %v", bal, err)
	}
}
