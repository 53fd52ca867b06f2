package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.SyncMetrics = (*RecordingMetrics)(nil)

// RecordingMetrics counts every SyncMetrics call.
type RecordingMetrics struct {
	mu                  sync.Mutex
	Syncs               int
	SyncErrors          int
	LedgerFailures      []int
	AnchorSubstitutions int
	PriceBatchesOK      int
	PriceBatchesFailed  int
	CacheHits           map[string]int
	CacheMisses         map[string]int
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		CacheHits:   make(map[string]int),
		CacheMisses: make(map[string]int),
	}
}

func (m *RecordingMetrics) RecordSync(_ context.Context, _ string, _ time.Duration, errorCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Syncs++
	m.SyncErrors += errorCount
}

func (m *RecordingMetrics) RecordLedgerFailure(_ context.Context, _ string, ledger int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LedgerFailures = append(m.LedgerFailures, ledger)
}

func (m *RecordingMetrics) RecordAnchorSubstitution(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnchorSubstitutions++
}

func (m *RecordingMetrics) RecordPriceBatch(_ context.Context, _ string, _ int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.PriceBatchesOK++
	} else {
		m.PriceBatchesFailed++
	}
}

func (m *RecordingMetrics) RecordCacheLookup(_ context.Context, concern string, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.CacheHits[concern]++
	} else {
		m.CacheMisses[concern]++
	}
}

// MetricsSnapshot is a point-in-time copy of RecordingMetrics.
type MetricsSnapshot struct {
	Syncs               int
	SyncErrors          int
	LedgerFailures      []int
	AnchorSubstitutions int
	PriceBatchesOK      int
	PriceBatchesFailed  int
	CacheHits           map[string]int
	CacheMisses         map[string]int
}

// Snapshot returns a copy safe to inspect.
func (m *RecordingMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := MetricsSnapshot{
		Syncs:               m.Syncs,
		SyncErrors:          m.SyncErrors,
		LedgerFailures:      append([]int(nil), m.LedgerFailures...),
		AnchorSubstitutions: m.AnchorSubstitutions,
		PriceBatchesOK:      m.PriceBatchesOK,
		PriceBatchesFailed:  m.PriceBatchesFailed,
		CacheHits:           make(map[string]int),
		CacheMisses:         make(map[string]int),
	}
	for k, v := range m.CacheHits {
		c.CacheHits[k] = v
	}
	for k, v := range m.CacheMisses {
		c.CacheMisses[k] = v
	}
	return c
}
