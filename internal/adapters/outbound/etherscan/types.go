package etherscan

import (
	"encoding/json"
	"strings"
)

// tokenBalanceResponse represents the response from the addresstokenbalance action.
// Example response:
//
//	{
//	  "status": "1",
//	  "message": "OK",
//	  "result": [
//	    {
//	      "TokenAddress": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
//	      "TokenName": "USD Coin",
//	      "TokenSymbol": "USDC",
//	      "TokenQuantity": "1500000",
//	      "TokenDivisor": "6"
//	    }
//	  ]
//	}
type tokenBalanceResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Result  []tokenHolding `json:"result"`
}

type tokenHolding struct {
	TokenAddress  string `json:"TokenAddress"`
	TokenName     string `json:"TokenName"`
	TokenSymbol   string `json:"TokenSymbol"`
	TokenQuantity string `json:"TokenQuantity"`
	TokenDivisor  string `json:"TokenDivisor"`
}

// etherscanError represents an error response from the Etherscan API.
// Result is a string for errors and an array for empty pages.
// Example response:
//
//	{
//	  "status": "0",
//	  "message": "NOTOK",
//	  "result": "Invalid API Key"
//	}
type etherscanError struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (e etherscanError) result() string {
	var s string
	if err := json.Unmarshal(e.Result, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(e.Result))
}

// noData reports the "status 0" answer Etherscan gives for an empty result.
func (e etherscanError) noData() bool {
	return strings.HasPrefix(strings.ToLower(e.Message), "no ")
}
