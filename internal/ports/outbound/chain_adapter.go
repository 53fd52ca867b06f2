package outbound

import (
	"context"
	"math/big"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// ChainAdapter reads balances and token metadata from one chain family.
// Implementations own their backend protocol and unit conversion and classify
// their errors with retry.Permanent where retrying cannot help.
type ChainAdapter interface {
	// Chain returns the registry entry this adapter was built for.
	Chain() entity.Chain

	// ValidateAddress returns an error wrapping entity.ErrInvalidAddress when
	// address is not well formed for the chain.
	ValidateAddress(address string) error

	// CanonicalAddress returns the form used for identity comparisons
	// (lower-case hex on EVM, unchanged elsewhere).
	CanonicalAddress(address string) string

	// FetchNativeBalance returns the native balance in base units.
	// Multi-ledger adapters return the anchor ledger's balance here.
	FetchNativeBalance(ctx context.Context, address string) (*big.Int, error)

	// FetchTokenBalances returns every non-native holding with a nonzero balance.
	FetchTokenBalances(ctx context.Context, address string) ([]entity.TokenBalance, error)

	// FetchTokenMetadata returns symbol, name and decimals for a token.
	FetchTokenMetadata(ctx context.Context, tokenAddress string) (*entity.TokenMetadata, error)
}

// MultiLedgerAdapter is implemented by chains whose balances are split across
// parallel ledgers that must be summed.
type MultiLedgerAdapter interface {
	ChainAdapter

	// Ledgers returns the ledger ids to query, including entity.AnchorLedger.
	Ledgers() []int

	// FetchLedgerNativeBalance returns the native balance held on one ledger.
	FetchLedgerNativeBalance(ctx context.Context, ledger int, address string) (*big.Int, error)

	// FetchLedgerTokenBalance returns a token balance held on one ledger.
	FetchLedgerTokenBalance(ctx context.Context, ledger int, tokenAddress, address string) (*big.Int, error)

	// TokenModules lists the fungible tokens tracked on this chain.
	TokenModules() []entity.TokenMetadata
}

// AdapterRegistry resolves chain codes to adapters.
type AdapterRegistry interface {
	// Adapter returns the adapter for chainCode or an error wrapping
	// entity.ErrUnsupportedChain.
	Adapter(chainCode string) (ChainAdapter, error)

	// Chains lists every registered chain.
	Chains() []entity.Chain
}
