// Package entity contains the core domain entities for the balance sync engine.
// These entities represent wallets, tokens, balances and the results of a sync.
package entity

import (
	"fmt"
	"strings"
)

// ChainFamily selects the adapter implementation for a chain.
// It is resolved once when the chain registry is loaded.
type ChainFamily int

const (
	FamilyUnknown ChainFamily = iota
	FamilyEVM
	FamilySolana
	FamilyKadena
)

// AnchorLedger is the ledger probed first on multi-ledger chains.
const AnchorLedger = 0

func (f ChainFamily) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilySolana:
		return "solana"
	case FamilyKadena:
		return "kadena"
	default:
		return "unknown"
	}
}

// ParseChainFamily maps a registry family name to a ChainFamily.
func ParseChainFamily(s string) (ChainFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evm":
		return FamilyEVM, nil
	case "solana", "svm":
		return FamilySolana, nil
	case "kadena", "pact":
		return FamilyKadena, nil
	default:
		return FamilyUnknown, fmt.Errorf("%w: family %q", ErrUnsupportedChain, s)
	}
}

// Chain describes a supported network and how its native asset is valued.
type Chain struct {
	Code           string // short code, e.g. "ETH", "KDA", "SOL_DEVNET"
	Name           string
	Family         ChainFamily
	Network        string // backend network id, e.g. "mainnet01" on Kadena
	EVMChainID     int64
	NativeSymbol   string
	NativeName     string
	NativeDecimals int32
	NativePriceID  string // price oracle id for the native asset
	IndexerChain   string // token-indexer chain slug, e.g. "eth", "polygon"
	PricePlatform  string // price-oracle platform id for contract prices
	Ledgers        []int
	IsActive       bool
	IsTestnet      bool
}

// Validate checks that the chain is complete enough to build an adapter for.
func (c *Chain) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("code must not be empty")
	}
	if c.Family == FamilyUnknown {
		return fmt.Errorf("chain %s: family must be set", c.Code)
	}
	if c.NativeSymbol == "" {
		return fmt.Errorf("chain %s: native symbol must not be empty", c.Code)
	}
	if c.NativeDecimals < 0 || c.NativeDecimals > 36 {
		return fmt.Errorf("chain %s: native decimals out of range: %d", c.Code, c.NativeDecimals)
	}
	seen := make(map[int]bool, len(c.Ledgers))
	for _, l := range c.Ledgers {
		if l < 0 {
			return fmt.Errorf("chain %s: negative ledger %d", c.Code, l)
		}
		if seen[l] {
			return fmt.Errorf("chain %s: duplicate ledger %d", c.Code, l)
		}
		seen[l] = true
	}
	if len(c.Ledgers) > 0 && !seen[AnchorLedger] {
		return fmt.Errorf("chain %s: ledger list must include anchor ledger %d", c.Code, AnchorLedger)
	}
	return nil
}

// IsMultiLedger reports whether balances are spread over several parallel ledgers.
func (c *Chain) IsMultiLedger() bool {
	return len(c.Ledgers) > 1
}

// LedgerCount returns the number of ledgers queried for a balance.
func (c *Chain) LedgerCount() int {
	if len(c.Ledgers) == 0 {
		return 1
	}
	return len(c.Ledgers)
}
