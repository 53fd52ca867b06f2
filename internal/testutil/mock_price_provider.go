package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var (
	_ outbound.TokenPriceProvider  = (*MockTokenPriceProvider)(nil)
	_ outbound.ChainSupport        = (*MockTokenPriceProvider)(nil)
	_ outbound.NativePriceProvider = (*MockNativePriceProvider)(nil)
)

// MockTokenPriceProvider returns Prices for known addresses and records every batch.
type MockTokenPriceProvider struct {
	BatchSize int
	Prices    map[string]entity.Price
	// GetFn overrides the default lookup when set.
	GetFn func(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error)
	// SupportsFn limits the chains quoted. Nil supports every chain.
	SupportsFn func(chain entity.Chain) bool

	mu      sync.Mutex
	Batches [][]string
	Calls   atomic.Int32
}

func (m *MockTokenPriceProvider) Name() string { return "mock" }

func (m *MockTokenPriceProvider) MaxBatchSize() int {
	if m.BatchSize <= 0 {
		return 20
	}
	return m.BatchSize
}

func (m *MockTokenPriceProvider) Supports(chain entity.Chain) bool {
	return m.SupportsFn == nil || m.SupportsFn(chain)
}

func (m *MockTokenPriceProvider) GetTokenPrices(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error) {
	m.Calls.Add(1)
	m.mu.Lock()
	m.Batches = append(m.Batches, append([]string(nil), addresses...))
	m.mu.Unlock()

	if m.GetFn != nil {
		return m.GetFn(ctx, chain, addresses)
	}
	out := make(map[string]entity.Price, len(addresses))
	for _, a := range addresses {
		if p, ok := m.Prices[a]; ok {
			out[a] = p
		}
	}
	return out, nil
}

// GetBatches returns a copy of the batches seen so far.
func (m *MockTokenPriceProvider) GetBatches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.Batches...)
}

// MockNativePriceProvider quotes native assets by chain code.
type MockNativePriceProvider struct {
	Prices map[string]entity.Price
	Err    error
	Calls  atomic.Int32
}

func (m *MockNativePriceProvider) Name() string { return "mock-native" }

func (m *MockNativePriceProvider) GetNativePrice(ctx context.Context, chain entity.Chain) (entity.Price, error) {
	m.Calls.Add(1)
	if m.Err != nil {
		return entity.Price{}, m.Err
	}
	return m.Prices[chain.Code], nil
}
