package moralis

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// walletToken is one element of GET /{address}/erc20.
type walletToken struct {
	TokenAddress string      `json:"token_address"`
	Name         string      `json:"name"`
	Symbol       string      `json:"symbol"`
	Logo         string      `json:"logo"`
	Thumbnail    string      `json:"thumbnail"`
	Decimals     json.Number `json:"decimals"`
	Balance      string      `json:"balance"`
	PossibleSpam bool        `json:"possible_spam"`
}

type priceRequest struct {
	Tokens []priceRequestToken `json:"tokens"`
}

type priceRequestToken struct {
	TokenAddress string `json:"token_address"`
}

// tokenPrice is one element of POST /erc20/prices.
type tokenPrice struct {
	TokenAddress      string           `json:"tokenAddress"`
	USDPrice          *decimal.Decimal `json:"usdPrice"`
	PercentChange24hr json.RawMessage  `json:"24hrPercentChange"`
}

// change parses the 24h change, which Moralis sends as either a string or a number.
func (p tokenPrice) change() (decimal.Decimal, error) {
	raw := strings.Trim(strings.TrimSpace(string(p.PercentChange24hr)), `"`)
	if raw == "" || raw == "null" {
		return decimal.Zero, fmt.Errorf("no change")
	}
	return decimal.NewFromString(raw)
}

// solanaMetadata is GET /token/{network}/{mint}/metadata.
type solanaMetadata struct {
	Mint        string      `json:"mint"`
	Name        string      `json:"name"`
	Symbol      string      `json:"symbol"`
	Logo        string      `json:"logo"`
	Decimals    json.Number `json:"decimals"`
	TotalSupply string      `json:"totalSupply"`
}

type apiError struct {
	Message string `json:"message"`
}

// solanaPrice is GET /token/{network}/{mint}/price.
type solanaPrice struct {
	TokenAddress     string           `json:"tokenAddress"`
	USDPrice         *decimal.Decimal `json:"usdPrice"`
	PercentChange24h json.RawMessage  `json:"usdPrice24hrPercentChange"`
}

func (p solanaPrice) change() (decimal.Decimal, error) {
	return tokenPrice{PercentChange24hr: p.PercentChange24h}.change()
}
