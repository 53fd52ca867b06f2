// Package shared provides cache plumbing and instrumentation shared by the
// balance services.
package shared

import (
	"fmt"
	"strings"
	"time"
)

// Cache lifetimes per concern.
const (
	BalanceTTL  = 60 * time.Second
	PriceTTL    = 15 * time.Minute
	MetadataTTL = 7 * 24 * time.Hour
)

// Concern labels used for cache metrics.
const (
	ConcernBalance  = "balance"
	ConcernTokens   = "tokens"
	ConcernPrice    = "price"
	ConcernMetadata = "metadata"
)

// BalanceCacheKey is the key of a wallet's combined native balance.
// Format: {chain}:{address}:balance
func BalanceCacheKey(chainCode, address string) string {
	return fmt.Sprintf("%s:%s:balance", chainCode, address)
}

// TokensCacheKey is the key of a wallet's discovered token holdings.
// Format: {chain}:{address}:all_tokens
func TokensCacheKey(chainCode, address string) string {
	return fmt.Sprintf("%s:%s:all_tokens", chainCode, address)
}

// WalletCachePrefix matches every balance key of one wallet.
func WalletCachePrefix(chainCode, address string) string {
	return fmt.Sprintf("%s:%s:", chainCode, address)
}

// TokenPriceCacheKey is the key of one contract token quote.
// Format: token_price:{chain}:{address}
func TokenPriceCacheKey(chainCode, address string) string {
	return fmt.Sprintf("token_price:%s:%s", chainCode, address)
}

// NativePriceCacheKey is the key of a native asset quote.
// Format: native_price:{symbol}
func NativePriceCacheKey(symbol string) string {
	return "native_price:" + strings.ToUpper(symbol)
}

// MetadataCacheKey is the key of one token's metadata.
// Format: token_metadata:{chain}:{address}
func MetadataCacheKey(chainCode, address string) string {
	return fmt.Sprintf("token_metadata:%s:%s", chainCode, address)
}
