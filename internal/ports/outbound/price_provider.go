package outbound

import (
	"context"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// TokenPriceProvider quotes contract tokens in batches.
type TokenPriceProvider interface {
	// Name returns the provider name (e.g., "coingecko").
	Name() string

	// MaxBatchSize is the largest number of addresses accepted per call.
	MaxBatchSize() int

	// GetTokenPrices quotes every address it can. Addresses missing from the
	// returned map, or with malformed entries, are treated as unpriced.
	// A returned error means the whole batch failed.
	GetTokenPrices(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error)
}

// NativePriceProvider quotes a chain's native asset by symbol or oracle id.
type NativePriceProvider interface {
	Name() string
	GetNativePrice(ctx context.Context, chain entity.Chain) (entity.Price, error)
}

// ChainSupport is implemented by price providers that only quote some chains.
// Providers without it are assumed to quote every chain routed to them.
type ChainSupport interface {
	Supports(chain entity.Chain) bool
}
