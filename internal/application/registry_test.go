package application

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/archon-research/stl/stl-balances/internal/application/chains"
	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/testutil"
)

// fakeEVMClient satisfies EVMClient without a network.
type fakeEVMClient struct {
	closed bool
}

func (f *fakeEVMClient) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeEVMClient) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeEVMClient) Close() { f.closed = true }

func testEntries(t *testing.T) []chains.Entry {
	t.Helper()
	entries, err := chains.Default()
	if err != nil {
		t.Fatalf("chains.Default: %v", err)
	}
	return entries
}

func TestNewRegistry_BuildsConfiguredChains(t *testing.T) {
	env := map[string]string{"ETH_RPC_URL": "http://eth.invalid"}
	var dialed []*fakeEVMClient

	reg, err := NewRegistry(context.Background(), RegistryConfig{
		Entries: testEntries(t),
		Lookup:  func(k string) string { return env[k] },
		DialEVM: func(_ context.Context, url string) (EVMClient, error) {
			c := &fakeEVMClient{}
			dialed = append(dialed, c)
			return c, nil
		},
		Logger: testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	// ETH from the environment; Solana and Kadena from their default endpoints.
	codes := map[string]bool{}
	for _, c := range reg.Chains() {
		codes[c.Code] = true
	}
	for _, want := range []string{"ETH", "SOL", "SOL_DEVNET", "KDA", "KDA_TESTNET"} {
		if !codes[want] {
			t.Errorf("missing chain %s in %v", want, codes)
		}
	}
	if codes["BSC"] {
		t.Error("BSC has no endpoint and should be skipped")
	}
	if len(dialed) != 1 {
		t.Errorf("dialed %d EVM clients, want 1", len(dialed))
	}

	kda, err := reg.Adapter("KDA")
	if err != nil {
		t.Fatalf("Adapter(KDA): %v", err)
	}
	ml, ok := kda.(outbound.MultiLedgerAdapter)
	if !ok {
		t.Fatal("KDA adapter must be multi-ledger")
	}
	if len(ml.Ledgers()) != 20 {
		t.Errorf("KDA ledgers = %d", len(ml.Ledgers()))
	}

	if _, err := reg.Adapter("BSC"); !errors.Is(err, entity.ErrUnsupportedChain) {
		t.Errorf("Adapter(BSC) err = %v", err)
	}

	reg.Close()
	if !dialed[0].closed {
		t.Error("Close should close EVM clients")
	}
}

func TestNewRegistry_DialFailureClosesEarlierClients(t *testing.T) {
	env := map[string]string{"ETH_RPC_URL": "http://eth.invalid", "BSC_RPC_URL": "http://bsc.invalid"}
	var first *fakeEVMClient
	_, err := NewRegistry(context.Background(), RegistryConfig{
		Entries: testEntries(t),
		Lookup:  func(k string) string { return env[k] },
		DialEVM: func(_ context.Context, url string) (EVMClient, error) {
			if first == nil {
				first = &fakeEVMClient{}
				return first, nil
			}
			return nil, errors.New("connection refused")
		},
		Logger: testutil.DiscardLogger(),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if first == nil || !first.closed {
		t.Error("earlier clients should be closed on failure")
	}
}

// batchingEVMClient also sends JSON-RPC batches.
type batchingEVMClient struct {
	fakeEVMClient
}

func (b *batchingEVMClient) BatchCallContext(context.Context, []gethrpc.BatchElem) error {
	return nil
}

func TestNewMulticaller(t *testing.T) {
	mc, err := newMulticaller(&fakeEVMClient{}, "")
	if err != nil || mc.Address() != multicall.DefaultAddress {
		t.Errorf("default = %v, %v", mc, err)
	}

	custom := "0x000000000000000000000000000000000000beef"
	mc, err = newMulticaller(&fakeEVMClient{}, custom)
	if err != nil || mc.Address() != common.HexToAddress(custom) {
		t.Errorf("custom = %v, %v", mc, err)
	}

	mc, err = newMulticaller(&batchingEVMClient{}, chains.MulticallDirect)
	if err != nil {
		t.Fatalf("direct: %v", err)
	}
	if _, ok := mc.(*multicall.DirectCaller); !ok {
		t.Errorf("direct = %T", mc)
	}

	if _, err := newMulticaller(&fakeEVMClient{}, chains.MulticallDirect); err == nil {
		t.Error("expected error for a client without batch support")
	}
}

// ---------------------------------------------------------------------------
// Request timeout
// ---------------------------------------------------------------------------

// hungServer accepts requests and never answers them until the test ends.
func hungServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })
	return server
}

func TestNewRegistry_RequestTimeoutBoundsHungNodes(t *testing.T) {
	server := hungServer(t)
	entries, err := chains.Parse([]byte(fmt.Sprintf(`chains:
  - {code: EVMX, family: evm, default_rpc: %q, native: {symbol: X, decimals: 18}}
  - {code: SOLX, family: solana, network: mainnet, default_rpc: %q, native: {symbol: SOL, decimals: 9}}
`, server.URL, server.URL)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	reg, err := NewRegistry(context.Background(), RegistryConfig{
		Entries:        entries,
		Lookup:         func(string) string { return "" },
		RequestTimeout: 200 * time.Millisecond,
		Logger:         testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer reg.Close()

	addresses := map[string]string{
		"EVMX": "0x0000000000000000000000000000000000000001",
		"SOLX": "11111111111111111111111111111111",
	}
	for code, addr := range addresses {
		adapter, err := reg.Adapter(code)
		if err != nil {
			t.Fatalf("Adapter(%s): %v", code, err)
		}

		done := make(chan error, 1)
		go func() {
			_, err := adapter.FetchNativeBalance(context.Background(), addr)
			done <- err
		}()
		select {
		case err := <-done:
			if err == nil {
				t.Errorf("%s: expected a timeout error", code)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("%s: FetchNativeBalance still blocked on a hung node", code)
		}
	}
}
