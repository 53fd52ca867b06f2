package cryptocompare

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// TokenBatchSize is the number of symbols sent per pricemultifull call.
const TokenBatchSize = 50

var (
	_ outbound.TokenPriceProvider = (*TokenPrices)(nil)
	_ outbound.ChainSupport       = (*TokenPrices)(nil)
)

// TokenPrices quotes tokens that have no contract-address price source by
// their ticker symbol. Symbols maps chain code to token address to symbol.
type TokenPrices struct {
	client  *Client
	symbols map[string]map[string]string
}

// TokenPrices returns a token price provider over the given symbol table. It
// shares the client's rate limiter.
func (c *Client) TokenPrices(symbols map[string]map[string]string) *TokenPrices {
	return &TokenPrices{client: c, symbols: symbols}
}

// Name returns the provider name.
func (p *TokenPrices) Name() string {
	return "cryptocompare"
}

// MaxBatchSize returns the number of symbols quoted per request.
func (p *TokenPrices) MaxBatchSize() int {
	return TokenBatchSize
}

// Supports reports whether any token on chain has a known symbol.
func (p *TokenPrices) Supports(chain entity.Chain) bool {
	return len(p.symbols[chain.Code]) > 0
}

// GetTokenPrices quotes one batch with a single request. Addresses without a
// symbol are left unpriced. The caller owns retries.
func (p *TokenPrices) GetTokenPrices(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error) {
	table := p.symbols[chain.Code]
	bySymbol := make(map[string][]string)
	for _, addr := range addresses {
		if sym := strings.ToUpper(table[addr]); sym != "" {
			bySymbol[sym] = append(bySymbol[sym], addr)
		}
	}
	out := make(map[string]entity.Price, len(addresses))
	if len(bySymbol) == 0 {
		return out, nil
	}

	syms := make([]string, 0, len(bySymbol))
	for sym := range bySymbol {
		syms = append(syms, sym)
	}
	params := url.Values{"fsyms": {strings.Join(syms, ",")}, "tsyms": {"USD"}}

	var resp multiFullResponse
	if err := p.client.http.DoSingle(ctx, p.client.request("/data/pricemultifull", params), &resp); err != nil {
		return nil, fmt.Errorf("token prices on %s: %w", chain.Code, err)
	}

	for sym, quotes := range resp.Raw {
		q, ok := quotes["USD"]
		if !ok || q.Price == nil {
			continue
		}
		price := entity.Price{USD: *q.Price}
		if q.ChangePct24h != nil {
			price.Change24h = q.ChangePct24h.Round(4)
		}
		for _, addr := range bySymbol[strings.ToUpper(sym)] {
			out[addr] = price
		}
	}
	return out, nil
}

// multiFullResponse is the /data/pricemultifull envelope.
type multiFullResponse struct {
	Raw map[string]map[string]struct {
		Price        *decimal.Decimal `json:"PRICE"`
		ChangePct24h *decimal.Decimal `json:"CHANGEPCT24HOUR"`
	} `json:"RAW"`
}
