package coingecko

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// priceResponse represents the response from /simple/price and
// /simple/token_price/{platform}. Keys are coin ids or lower-cased contract
// addresses.
// Example response:
//
//	{
//	  "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": {
//	    "usd": 0.9998,
//	    "usd_24h_change": -0.012
//	  }
//	}
type priceResponse map[string]json.RawMessage

type priceEntry struct {
	USD       *decimal.Decimal `json:"usd"`
	Change24h *decimal.Decimal `json:"usd_24h_change"`
}

// decodePrice decodes one entry. Entries without a usd field are malformed.
func decodePrice(raw json.RawMessage) (entity.Price, error) {
	var e priceEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return entity.Price{}, fmt.Errorf("decoding price entry: %w", err)
	}
	if e.USD == nil {
		return entity.Price{}, fmt.Errorf("price entry has no usd field")
	}
	p := entity.Price{USD: *e.USD}
	if e.Change24h != nil {
		p.Change24h = *e.Change24h
	}
	return p, nil
}

// coinGeckoError represents an error response from the CoinGecko API.
// Older endpoints use "error", newer ones a status object.
type coinGeckoError struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func (e coinGeckoError) message() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Status.ErrorMessage
}
