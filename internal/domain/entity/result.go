package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Holding is one valued line of an aggregate result.
type Holding struct {
	TokenAddress string          `json:"tokenAddress"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Decimals     int32           `json:"decimals"`
	RawBalance   string          `json:"rawBalance"`
	Balance      decimal.Decimal `json:"balance"`
	PriceUSD     decimal.Decimal `json:"priceUsd"`
	Change24h    decimal.Decimal `json:"change24h"`
	ValueUSD     decimal.Decimal `json:"valueUsd"`
	ChangeUSD    decimal.Decimal `json:"changeUsd"`
	IsNative     bool            `json:"isNative"`
	IsVisible    bool            `json:"isVisible"`
}

// AggregateResult is what one wallet sync returns to its caller.
type AggregateResult struct {
	WalletID          uuid.UUID       `json:"walletId"`
	ChainCode         string          `json:"chain"`
	Address           string          `json:"address"`
	NativeSymbol      string          `json:"nativeSymbol"`
	NativeBalance     decimal.Decimal `json:"nativeBalance"`
	NativePrice       Price           `json:"nativePrice"`
	Holdings          []Holding       `json:"holdings"`
	TotalValueUSD     decimal.Decimal `json:"totalValueUsd"`
	TotalChange24hUSD decimal.Decimal `json:"totalChange24hUsd"`
	ErrorCount        int             `json:"errorCount"`
	Errors            []string        `json:"errors,omitempty"`
	SyncedAt          time.Time       `json:"syncedAt"`
}

// AddError records a degraded unit of work.
func (r *AggregateResult) AddError(err error) {
	if err == nil {
		return
	}
	r.ErrorCount++
	r.Errors = append(r.Errors, err.Error())
}

// Degraded reports whether any unit of work failed.
func (r *AggregateResult) Degraded() bool {
	return r.ErrorCount > 0
}

// ValueHolding fills the derived USD fields of h from its balance and price.
func ValueHolding(h *Holding) {
	h.ValueUSD = h.Balance.Mul(h.PriceUSD)
	h.ChangeUSD = h.ValueUSD.Mul(h.Change24h).Div(decimal.NewFromInt(100))
}

// Totals sums value and 24h change over visible holdings.
func Totals(holdings []Holding) (value, change decimal.Decimal) {
	value, change = decimal.Zero, decimal.Zero
	for _, h := range holdings {
		if !h.IsVisible {
			continue
		}
		value = value.Add(h.ValueUSD)
		change = change.Add(h.ChangeUSD)
	}
	return value, change
}
