package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl/stl-balances/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.Multicaller = (*MockMulticaller)(nil)

// MockMulticaller records every batch it is handed. ExecuteFn supplies the
// results; without it Execute fails.
type MockMulticaller struct {
	ExecuteFn func(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error)
	Addr      common.Address

	mu        sync.Mutex
	CallCount int
	Batches   [][]outbound.Call
}

// NewMockMulticaller returns a mock at the canonical Multicall3 address.
func NewMockMulticaller() *MockMulticaller {
	return &MockMulticaller{Addr: multicall.DefaultAddress}
}

func (m *MockMulticaller) Execute(ctx context.Context, calls []outbound.Call, blockNumber *big.Int) ([]outbound.Result, error) {
	m.mu.Lock()
	m.CallCount++
	m.Batches = append(m.Batches, calls)
	fn := m.ExecuteFn
	m.mu.Unlock()

	if fn == nil {
		return nil, errors.New("MockMulticaller: ExecuteFn not set")
	}
	return fn(ctx, calls, blockNumber)
}

func (m *MockMulticaller) Address() common.Address { return m.Addr }
