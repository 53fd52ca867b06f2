// Package chains loads the chain registry from YAML.
//
// An embedded default covers the supported mainnets and testnets. Deployments
// can replace it with their own file. Each entry's family is resolved here,
// once, into an entity.ChainFamily.
package chains

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

//go:embed chains.yaml
var defaultChains []byte

// Native describes a chain's native asset.
type Native struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals int32  `yaml:"decimals"`
	PriceID  string `yaml:"price_id"`
}

// TokenModule is a tracked fungible token on a multi-ledger chain.
type TokenModule struct {
	Module   string `yaml:"module"`
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals int32  `yaml:"decimals"`
}

// Spec is one registry entry as written in YAML.
type Spec struct {
	Code          string        `yaml:"code"`
	Name          string        `yaml:"name"`
	Family        string        `yaml:"family"`
	Network       string        `yaml:"network"`
	EVMChainID    int64         `yaml:"evm_chain_id"`
	Native        Native        `yaml:"native"`
	IndexerChain  string        `yaml:"indexer_chain"`
	PricePlatform string        `yaml:"price_platform"`
	LedgerCount   int           `yaml:"ledger_count"`
	RPCEnv        string        `yaml:"rpc_env"`
	DefaultRPC    string        `yaml:"default_rpc"`
	TrackedTokens []string      `yaml:"tracked_tokens"`
	TokenModules  []TokenModule `yaml:"token_modules"`
	Multicall     string        `yaml:"multicall"`
	Active        bool          `yaml:"active"`
	Testnet       bool          `yaml:"testnet"`
}

// MulticallDirect selects per-call JSON-RPC batching instead of a Multicall3
// contract.
const MulticallDirect = "direct"

// Entry is a validated registry entry.
type Entry struct {
	Chain         entity.Chain
	RPCEnv        string
	DefaultRPC    string
	TrackedTokens []string
	TokenModules  []entity.TokenMetadata

	// Multicall is empty for the canonical Multicall3 deployment,
	// MulticallDirect, or a contract address.
	Multicall string
}

// RPCURL returns the endpoint from the environment, falling back to the
// entry's default. lookup is usually os.Getenv.
func (e Entry) RPCURL(lookup func(string) string) string {
	if e.RPCEnv != "" {
		if v := strings.TrimSpace(lookup(e.RPCEnv)); v != "" {
			return v
		}
	}
	return e.DefaultRPC
}

type file struct {
	Chains []Spec `yaml:"chains"`
}

// Default returns the embedded registry.
func Default() ([]Entry, error) {
	return Parse(defaultChains)
}

// Load reads the registry at path, or the embedded default when path is empty.
func Load(path string) ([]Entry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chain registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a registry document. Unknown keys are rejected.
func Parse(data []byte) ([]Entry, error) {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)

	var f file
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding chain registry: %w", err)
	}
	if len(f.Chains) == 0 {
		return nil, errors.New("chain registry is empty")
	}

	seen := make(map[string]bool, len(f.Chains))
	entries := make([]Entry, 0, len(f.Chains))
	for i, s := range f.Chains {
		e, err := s.entry()
		if err != nil {
			return nil, fmt.Errorf("chain #%d: %w", i, err)
		}
		if seen[e.Chain.Code] {
			return nil, fmt.Errorf("duplicate chain code %s", e.Chain.Code)
		}
		seen[e.Chain.Code] = true
		entries = append(entries, e)
	}
	return entries, nil
}

func (s Spec) entry() (Entry, error) {
	family, err := entity.ParseChainFamily(s.Family)
	if err != nil {
		return Entry{}, fmt.Errorf("%s: %w", s.Code, err)
	}

	chain := entity.Chain{
		Code:           strings.ToUpper(strings.TrimSpace(s.Code)),
		Name:           s.Name,
		Family:         family,
		Network:        s.Network,
		EVMChainID:     s.EVMChainID,
		NativeSymbol:   s.Native.Symbol,
		NativeName:     s.Native.Name,
		NativeDecimals: s.Native.Decimals,
		NativePriceID:  s.Native.PriceID,
		IndexerChain:   s.IndexerChain,
		PricePlatform:  s.PricePlatform,
		IsActive:       s.Active,
		IsTestnet:      s.Testnet,
	}
	if s.LedgerCount < 0 {
		return Entry{}, fmt.Errorf("%s: negative ledger count", s.Code)
	}
	if s.LedgerCount > 0 && family != entity.FamilyKadena {
		return Entry{}, fmt.Errorf("%s: ledger_count is only valid for kadena chains", s.Code)
	}
	for l := range s.LedgerCount {
		chain.Ledgers = append(chain.Ledgers, l)
	}
	if family == entity.FamilyKadena && chain.Network == "" {
		return Entry{}, fmt.Errorf("%s: kadena chains need a network", s.Code)
	}
	if err := chain.Validate(); err != nil {
		return Entry{}, err
	}

	e := Entry{
		Chain:         chain,
		RPCEnv:        s.RPCEnv,
		DefaultRPC:    s.DefaultRPC,
		TrackedTokens: s.TrackedTokens,
		Multicall:     strings.ToLower(strings.TrimSpace(s.Multicall)),
	}
	if e.Multicall != "" {
		if family != entity.FamilyEVM {
			return Entry{}, fmt.Errorf("%s: multicall is only valid for evm chains", s.Code)
		}
		if e.Multicall != MulticallDirect && !common.IsHexAddress(e.Multicall) {
			return Entry{}, fmt.Errorf("%s: multicall must be %q or a contract address", s.Code, MulticallDirect)
		}
	}
	for _, m := range s.TokenModules {
		if m.Module == "" {
			return Entry{}, fmt.Errorf("%s: token module without name", s.Code)
		}
		e.TokenModules = append(e.TokenModules, entity.TokenMetadata{
			Address:  m.Module,
			Symbol:   m.Symbol,
			Name:     m.Name,
			Decimals: m.Decimals,
		})
	}
	return e, nil
}
