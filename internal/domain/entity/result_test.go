package entity

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTotals_OnlyVisibleHoldings(t *testing.T) {
	holdings := []Holding{
		{Balance: decimal.NewFromInt(15), PriceUSD: decimal.NewFromInt(3), Change24h: decimal.NewFromInt(10), IsVisible: true},
		{Balance: decimal.NewFromInt(4), PriceUSD: decimal.NewFromInt(2), Change24h: decimal.NewFromInt(-50), IsVisible: true},
		{Balance: decimal.NewFromInt(1000), PriceUSD: decimal.NewFromInt(1), IsVisible: false},
	}
	for i := range holdings {
		ValueHolding(&holdings[i])
	}

	value, change := Totals(holdings)
	if !value.Equal(decimal.NewFromInt(53)) {
		t.Errorf("value = %s, want 53", value)
	}
	// 45 * 10% - 8 * 50% = 4.5 - 4 = 0.5
	if !change.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("change = %s, want 0.5", change)
	}
}

func TestAggregateResult_AddError(t *testing.T) {
	var r AggregateResult
	r.AddError(nil)
	if r.Degraded() {
		t.Fatal("nil error should not degrade")
	}
	r.AddError(errors.New("ledger 3: timeout"))
	r.AddError(errors.New("batch 1: exhausted"))
	if r.ErrorCount != 2 || len(r.Errors) != 2 || !r.Degraded() {
		t.Errorf("unexpected result state: %+v", r)
	}
}
