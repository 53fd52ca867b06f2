package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/evm"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/kadena"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/solana"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-balances/internal/application/chains"
	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/blockchain/multicall"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that Registry implements outbound.AdapterRegistry
var _ outbound.AdapterRegistry = (*Registry)(nil)

// DefaultRequestTimeout bounds one backend call of any chain adapter.
const DefaultRequestTimeout = 15 * time.Second

// EVMClient is the subset of *ethclient.Client the EVM adapter needs.
type EVMClient interface {
	evm.BalanceReader
	ethereum.ContractCaller
	Close()
}

// RegistryConfig holds everything needed to build chain adapters.
type RegistryConfig struct {
	// Entries is the loaded chain registry.
	Entries []chains.Entry

	// Lookup resolves rpc_env names. Defaults to os.Getenv.
	Lookup func(string) string

	// Indexer discovers EVM token holdings. Optional.
	Indexer evm.TokenIndexer

	// SolanaMetadata resolves SPL token metadata. Optional.
	SolanaMetadata solana.MetadataSource

	// Kadena is the base config for Kadena adapters. BaseURL and
	// TokenModules are filled per chain.
	Kadena kadena.Config

	// SolanaIncludeNFTs reports single-unit zero-decimal mints as holdings.
	SolanaIncludeNFTs bool

	// Metrics instruments every adapter when set.
	Metrics *telemetry.AdapterMetrics

	// RequestTimeout bounds every adapter call and every RPC round trip.
	// Defaults to DefaultRequestTimeout.
	RequestTimeout time.Duration

	// DialEVM connects to an EVM endpoint. Defaults to dialEVM.
	DialEVM func(ctx context.Context, url string) (EVMClient, error)

	Logger *slog.Logger
}

// Registry resolves chain codes to adapters built from the chain registry.
// Chains without a reachable endpoint configuration are left out.
type Registry struct {
	adapters map[string]outbound.ChainAdapter
	chains   []entity.Chain
	closers  []func()
	logger   *slog.Logger
}

// NewRegistry builds one adapter per configured chain.
func NewRegistry(ctx context.Context, cfg RegistryConfig) (*Registry, error) {
	if cfg.Lookup == nil {
		cfg.Lookup = os.Getenv
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.DialEVM == nil {
		timeout := cfg.RequestTimeout
		cfg.DialEVM = func(ctx context.Context, url string) (EVMClient, error) {
			return dialEVM(ctx, url, timeout)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Registry{
		adapters: make(map[string]outbound.ChainAdapter, len(cfg.Entries)),
		logger:   cfg.Logger.With("component", "adapter-registry"),
	}

	for _, e := range cfg.Entries {
		url := e.RPCURL(cfg.Lookup)
		if url == "" {
			r.logger.Info("skipping chain without endpoint", "chain", e.Chain.Code, "env", e.RPCEnv)
			continue
		}

		adapter, err := r.build(ctx, cfg, e, url)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("building %s adapter: %w", e.Chain.Code, err)
		}
		r.adapters[e.Chain.Code] = telemetry.Instrument(adapter, cfg.Metrics, cfg.RequestTimeout)
		r.chains = append(r.chains, e.Chain)
		r.logger.Info("registered chain",
			"chain", e.Chain.Code,
			"family", e.Chain.Family.String(),
			"ledgers", e.Chain.LedgerCount(),
			"active", e.Chain.IsActive)
	}

	sort.Slice(r.chains, func(i, j int) bool { return r.chains[i].Code < r.chains[j].Code })
	return r, nil
}

func (r *Registry) build(ctx context.Context, cfg RegistryConfig, e chains.Entry, url string) (outbound.ChainAdapter, error) {
	switch e.Chain.Family {
	case entity.FamilyEVM:
		client, err := cfg.DialEVM(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("dialing %s: %w", e.RPCEnv, err)
		}
		r.closers = append(r.closers, client.Close)

		mc, err := newMulticaller(client, e.Multicall)
		if err != nil {
			return nil, fmt.Errorf("%s multicaller: %w", e.Chain.Code, err)
		}
		return evm.NewAdapter(e.Chain, evm.Config{
			TrackedTokens: e.TrackedTokens,
			Logger:        cfg.Logger,
		}, client, mc, cfg.Indexer)

	case entity.FamilySolana:
		client := rpc.NewWithCustomRPCClient(jsonrpc.NewClientWithOpts(url, &jsonrpc.RPCClientOpts{
			HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		}))
		r.closers = append(r.closers, func() { _ = client.Close() })
		return solana.NewAdapter(e.Chain, solana.Config{
			IncludeNFTs: cfg.SolanaIncludeNFTs,
			Logger:      cfg.Logger,
		}, client, cfg.SolanaMetadata)

	case entity.FamilyKadena:
		kc := cfg.Kadena
		kc.BaseURL = url
		kc.TokenModules = e.TokenModules
		if kc.Timeout == 0 {
			kc.Timeout = cfg.RequestTimeout
		}
		if kc.Logger == nil {
			kc.Logger = cfg.Logger
		}
		return kadena.NewAdapter(e.Chain, kc)

	default:
		return nil, fmt.Errorf("%w: family %s", entity.ErrUnsupportedChain, e.Chain.Family)
	}
}

// Adapter returns the adapter for chainCode.
func (r *Registry) Adapter(chainCode string) (outbound.ChainAdapter, error) {
	a, ok := r.adapters[chainCode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", entity.ErrUnsupportedChain, chainCode)
	}
	return a, nil
}

// Chains lists every registered chain ordered by code.
func (r *Registry) Chains() []entity.Chain {
	return append([]entity.Chain(nil), r.chains...)
}

// Close releases backend connections.
func (r *Registry) Close() {
	for _, c := range r.closers {
		c()
	}
	r.closers = nil
}

// dialEVM connects over JSON-RPC with a bounded HTTP client. go-ethereum's
// default HTTP transport never times out.
func dialEVM(ctx context.Context, url string, timeout time.Duration) (EVMClient, error) {
	c, err := gethrpc.DialOptions(ctx, url, gethrpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, err
	}
	return ethclient.NewClient(c), nil
}

// rpcClientProvider is implemented by *ethclient.Client.
type rpcClientProvider interface {
	Client() *gethrpc.Client
}

func newMulticaller(client EVMClient, mode string) (outbound.Multicaller, error) {
	switch mode {
	case "":
		return multicall.NewClient(client, multicall.DefaultAddress)
	case chains.MulticallDirect:
		if bc, ok := client.(multicall.BatchCaller); ok {
			return multicall.NewDirectCaller(bc, 0)
		}
		if p, ok := client.(rpcClientProvider); ok {
			return multicall.NewDirectCaller(p.Client(), 0)
		}
		return nil, fmt.Errorf("client %T cannot send JSON-RPC batches", client)
	default:
		return multicall.NewClient(client, common.HexToAddress(mode))
	}
}
