package moralis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// SolanaBatchSize is the number of mints quoted per batch. The gateway has no
// batch endpoint, so each mint is its own request.
const SolanaBatchSize = 10

var (
	_ outbound.TokenPriceProvider = (*SolanaPrices)(nil)
	_ outbound.ChainSupport       = (*SolanaPrices)(nil)
)

// SolanaPrices quotes SPL mints through the Solana gateway.
type SolanaPrices struct {
	client *Client
}

// SolanaPrices returns a token price provider for Solana chains that shares
// the client's rate limiter.
func (c *Client) SolanaPrices() *SolanaPrices {
	return &SolanaPrices{client: c}
}

// Name returns the provider name.
func (p *SolanaPrices) Name() string {
	return "moralis-solana"
}

// MaxBatchSize returns the number of mints quoted per batch.
func (p *SolanaPrices) MaxBatchSize() int {
	return SolanaBatchSize
}

// Supports reports whether chain is a Solana chain.
func (p *SolanaPrices) Supports(chain entity.Chain) bool {
	return chain.Family == entity.FamilySolana
}

// GetTokenPrices quotes each mint with one request. Mints the gateway does not
// know are left unpriced. The batch fails only when no mint could be quoted
// and at least one request failed for a reason other than 404.
func (p *SolanaPrices) GetTokenPrices(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error) {
	network := chain.Network
	if network == "" {
		network = "mainnet"
	}

	out := make(map[string]entity.Price, len(addresses))
	var errs []error
	for _, mint := range addresses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		endpoint := fmt.Sprintf("%s/token/%s/%s/price", p.client.config.SolanaBaseURL, url.PathEscape(network), url.PathEscape(mint))

		var resp solanaPrice
		if err := p.client.http.DoSingle(ctx, p.client.request(endpoint), &resp); err != nil {
			if httpclient.IsStatus(err, http.StatusNotFound) {
				continue
			}
			p.client.logger.Debug("solana price failed", "mint", mint, "error", err)
			errs = append(errs, fmt.Errorf("price %s: %w", mint, err))
			continue
		}
		if resp.USDPrice == nil {
			continue
		}
		price := entity.Price{USD: *resp.USDPrice}
		if change, err := resp.change(); err == nil {
			price.Change24h = change
		}
		out[mint] = price
	}

	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
