package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var (
	_ outbound.ChainAdapter       = (*MockChainAdapter)(nil)
	_ outbound.MultiLedgerAdapter = (*MockMultiLedgerAdapter)(nil)
)

// MockChainAdapter implements outbound.ChainAdapter with overridable funcs.
// Unset funcs return zero balances and no tokens.
type MockChainAdapter struct {
	ChainInfo entity.Chain

	ValidateFn      func(address string) error
	NativeBalanceFn func(ctx context.Context, address string) (*big.Int, error)
	TokenBalancesFn func(ctx context.Context, address string) ([]entity.TokenBalance, error)
	TokenMetadataFn func(ctx context.Context, tokenAddress string) (*entity.TokenMetadata, error)
	CaseInsensitive bool

	NativeCalls   atomic.Int32
	TokenCalls    atomic.Int32
	MetadataCalls atomic.Int32
}

// NewMockChainAdapter returns a single-ledger mock for chain.
func NewMockChainAdapter(chain entity.Chain) *MockChainAdapter {
	return &MockChainAdapter{ChainInfo: chain, CaseInsensitive: chain.Family == entity.FamilyEVM}
}

func (m *MockChainAdapter) Chain() entity.Chain { return m.ChainInfo }

func (m *MockChainAdapter) ValidateAddress(address string) error {
	if m.ValidateFn != nil {
		return m.ValidateFn(address)
	}
	if address == "" {
		return fmt.Errorf("%w: empty", entity.ErrInvalidAddress)
	}
	return nil
}

func (m *MockChainAdapter) CanonicalAddress(address string) string {
	if m.CaseInsensitive {
		return strings.ToLower(address)
	}
	return address
}

func (m *MockChainAdapter) FetchNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	m.NativeCalls.Add(1)
	if m.NativeBalanceFn != nil {
		return m.NativeBalanceFn(ctx, address)
	}
	return new(big.Int), nil
}

func (m *MockChainAdapter) FetchTokenBalances(ctx context.Context, address string) ([]entity.TokenBalance, error) {
	m.TokenCalls.Add(1)
	if m.TokenBalancesFn != nil {
		return m.TokenBalancesFn(ctx, address)
	}
	return nil, nil
}

func (m *MockChainAdapter) FetchTokenMetadata(ctx context.Context, tokenAddress string) (*entity.TokenMetadata, error) {
	m.MetadataCalls.Add(1)
	if m.TokenMetadataFn != nil {
		return m.TokenMetadataFn(ctx, tokenAddress)
	}
	return nil, errors.New("FetchTokenMetadata not mocked")
}

// MockMultiLedgerAdapter serves fixed per-ledger balances.
// Ledgers missing from NativeByLedger report zero; LedgerErrors fail them.
type MockMultiLedgerAdapter struct {
	*MockChainAdapter

	mu             sync.Mutex
	NativeByLedger map[int]*big.Int
	LedgerErrors   map[int]error

	// AnchorProbe, when set, is returned by the first query of the anchor ledger only.
	AnchorProbe *big.Int
	AnchorErr   error

	// TokenByLedger maps token module -> ledger -> balance.
	TokenByLedger map[string]map[int]*big.Int
	Modules       []entity.TokenMetadata
	Delay         time.Duration

	anchorProbed bool
	LedgerCalls  atomic.Int32
	inFlight     atomic.Int32
	MaxInFlight  atomic.Int32
}

// NewMockMultiLedgerAdapter returns a mock whose ledgers are chain.Ledgers.
func NewMockMultiLedgerAdapter(chain entity.Chain) *MockMultiLedgerAdapter {
	return &MockMultiLedgerAdapter{
		MockChainAdapter: NewMockChainAdapter(chain),
		NativeByLedger:   make(map[int]*big.Int),
		LedgerErrors:     make(map[int]error),
		TokenByLedger:    make(map[string]map[int]*big.Int),
	}
}

func (m *MockMultiLedgerAdapter) Ledgers() []int { return m.ChainInfo.Ledgers }

func (m *MockMultiLedgerAdapter) TokenModules() []entity.TokenMetadata { return m.Modules }

func (m *MockMultiLedgerAdapter) enter() func() {
	n := m.inFlight.Add(1)
	for {
		cur := m.MaxInFlight.Load()
		if n <= cur || m.MaxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { m.inFlight.Add(-1) }
}

func (m *MockMultiLedgerAdapter) FetchNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	return m.FetchLedgerNativeBalance(ctx, entity.AnchorLedger, address)
}

func (m *MockMultiLedgerAdapter) FetchLedgerNativeBalance(ctx context.Context, ledger int, address string) (*big.Int, error) {
	m.LedgerCalls.Add(1)
	defer m.enter()()

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ledger == entity.AnchorLedger && !m.anchorProbed {
		m.anchorProbed = true
		if m.AnchorErr != nil {
			return nil, m.AnchorErr
		}
		if m.AnchorProbe != nil {
			return new(big.Int).Set(m.AnchorProbe), nil
		}
	}
	if err, ok := m.LedgerErrors[ledger]; ok {
		return nil, err
	}
	if v, ok := m.NativeByLedger[ledger]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (m *MockMultiLedgerAdapter) FetchLedgerTokenBalance(ctx context.Context, ledger int, tokenAddress, address string) (*big.Int, error) {
	m.LedgerCalls.Add(1)
	defer m.enter()()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.LedgerErrors[ledger]; ok {
		return nil, err
	}
	if v, ok := m.TokenByLedger[tokenAddress][ledger]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// ResetProbe makes the next anchor query behave as a fresh probe again.
func (m *MockMultiLedgerAdapter) ResetProbe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchorProbed = false
}
