package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NativeAddress is the canonical token address of a chain's native asset.
const NativeAddress = ""

// UnknownDecimals marks metadata whose decimals could not be resolved.
const UnknownDecimals int32 = -1

// alternateNativeSentinels are legacy spellings of the native address that
// older writers stored. The reconciler folds them into NativeAddress.
var alternateNativeSentinels = map[string]bool{
	"coin":   true,
	"native": true,
}

// IsNativeAddress reports whether address denotes the native asset in any spelling.
func IsNativeAddress(address string) bool {
	return address == NativeAddress || IsAlternateNative(address)
}

// IsAlternateNative reports whether address is a non-canonical native sentinel.
func IsAlternateNative(address string) bool {
	return alternateNativeSentinels[strings.ToLower(address)]
}

// Token is a fungible asset on a chain, keyed by (ChainCode, Address).
type Token struct {
	ChainCode         string
	Address           string
	Symbol            string
	Name              string
	Decimals          int32
	LogoURL           string
	TotalSupplyRaw    string
	PriceUSD          decimal.Decimal
	Change24h         decimal.Decimal
	MetadataUpdatedAt *time.Time
	PriceUpdatedAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewToken creates a new Token entity with validation.
func NewToken(chainCode, address, symbol, name string, decimals int32) (*Token, error) {
	t := &Token{
		ChainCode: chainCode,
		Address:   address,
		Symbol:    symbol,
		Name:      name,
		Decimals:  decimals,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Token) validate() error {
	if t.ChainCode == "" {
		return fmt.Errorf("chainCode must not be empty")
	}
	if t.Decimals < UnknownDecimals || t.Decimals > 36 {
		return fmt.Errorf("decimals out of range: %d", t.Decimals)
	}
	return nil
}

// IsNative reports whether the token is the chain's native asset.
func (t *Token) IsNative() bool {
	return t.Address == NativeAddress
}

// MetadataStale reports whether metadata is missing or older than maxAge.
func (t *Token) MetadataStale(now time.Time, maxAge time.Duration) bool {
	if t.Symbol == "" || t.Decimals == UnknownDecimals || t.MetadataUpdatedAt == nil {
		return true
	}
	return now.Sub(*t.MetadataUpdatedAt) > maxAge
}

// TokenMetadata is what a chain adapter reports about a token contract or mint.
type TokenMetadata struct {
	Address        string `json:"address"`
	Symbol         string `json:"symbol"`
	Name           string `json:"name"`
	Decimals       int32  `json:"decimals"`
	LogoURL        string `json:"logoUrl,omitempty"`
	TotalSupplyRaw string `json:"totalSupply,omitempty"`
}

// Known reports whether enough metadata exists to format a balance.
func (m TokenMetadata) Known() bool {
	return m.Decimals >= 0
}

// UnknownMetadata is the degraded metadata used when every lookup failed.
func UnknownMetadata(address string) TokenMetadata {
	return TokenMetadata{Address: address, Decimals: UnknownDecimals}
}

// Price is a USD quote with its 24h percentage change.
type Price struct {
	USD       decimal.Decimal `json:"usd"`
	Change24h decimal.Decimal `json:"change24h"`
}

// IsZero reports whether no usable quote is present.
func (p Price) IsZero() bool {
	return p.USD.IsZero()
}

// majorSymbols never legitimately trade at zero; a cached zero for one of
// them is treated as a poisoned entry.
var majorSymbols = map[string]bool{
	"ETH": true, "BTC": true, "SOL": true, "KDA": true,
	"USDT": true, "USDC": true, "DAI": true,
}

// IsMajorSymbol reports whether symbol is one of the well-known assets.
func IsMajorSymbol(symbol string) bool {
	return majorSymbols[strings.ToUpper(symbol)]
}
