package entity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUnits converts a base-unit integer into a decimal amount.
// Unknown decimals format as zero so that nothing gets valued by accident.
func FormatUnits(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil || decimals < 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// ParseUnits converts a decimal amount such as "1.5" into base units,
// truncating digits beyond decimals.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	return d.Shift(decimals).Truncate(0).BigInt(), nil
}

// ParseRaw parses a stored non-negative base-unit integer. Empty means zero.
func ParseRaw(raw string) (*big.Int, error) {
	if raw == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid raw balance %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative raw balance %q", raw)
	}
	return v, nil
}
