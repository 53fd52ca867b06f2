// Package moralis talks to the Moralis Web3 data API.
//
// It serves three roles: EVM wallet token discovery, batched EVM token
// prices, and Solana token metadata.
package moralis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.TokenPriceProvider = (*Client)(nil)

// DefaultBatchSize is the number of tokens sent per erc20/prices call.
const DefaultBatchSize = 20

// ClientConfig holds configuration for the Moralis client.
type ClientConfig struct {
	APIKey string

	// BaseURL is the EVM API root. Defaults to https://deep-index.moralis.io/api/v2.2
	BaseURL string

	// SolanaBaseURL is the Solana gateway root. Defaults to https://solana-gateway.moralis.io
	SolanaBaseURL string

	Timeout    time.Duration
	MaxRetries int

	// RateLimitPerSec bounds outgoing requests. Defaults to 20.
	RateLimitPerSec float64

	// BatchSize caps tokens per price request. Defaults to 20.
	BatchSize int

	// IncludeSpam keeps tokens Moralis flags as possible spam.
	IncludeSpam bool

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://deep-index.moralis.io/api/v2.2",
		SolanaBaseURL:   "https://solana-gateway.moralis.io",
		Timeout:         30 * time.Second,
		MaxRetries:      2,
		RateLimitPerSec: 20,
		BatchSize:       DefaultBatchSize,
		Logger:          slog.Default(),
	}
}

// Client is a Moralis API client.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a Moralis client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}

	defaults := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.SolanaBaseURL == "" {
		config.SolanaBaseURL = defaults.SolanaBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	config.SolanaBaseURL = strings.TrimRight(config.SolanaBaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	logger := config.Logger.With("component", "moralis-client")
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = config.Timeout
	httpCfg.MaxRetries = config.MaxRetries
	httpCfg.RateLimit = rate.Limit(config.RateLimitPerSec)
	httpCfg.RateBurst = 2

	return &Client{
		config: config,
		http:   httpclient.NewClient(httpCfg, logger, parseError),
		logger: logger,
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "moralis"
}

// MaxBatchSize returns the configured erc20/prices batch size.
func (c *Client) MaxBatchSize() int {
	return c.config.BatchSize
}

// Supports reports whether chain has a Moralis chain name.
func (c *Client) Supports(chain entity.Chain) bool {
	return chain.IndexerChain != ""
}

// WalletTokens lists the ERC20 holdings of address on an EVM chain.
// The chain is named by its IndexerChain slug ("eth", "bsc", "polygon", ...).
func (c *Client) WalletTokens(ctx context.Context, chain entity.Chain, address string) ([]entity.TokenBalance, error) {
	chainSlug := chain.IndexerChain
	if chainSlug == "" {
		return nil, retry.Permanent(fmt.Errorf("chain %s has no indexer chain", chain.Code))
	}
	endpoint := fmt.Sprintf("%s/%s/erc20?%s", c.config.BaseURL, url.PathEscape(address),
		url.Values{"chain": {chainSlug}}.Encode())

	var resp []walletToken
	if err := c.http.DoRequest(ctx, c.request(endpoint), &resp); err != nil {
		return nil, fmt.Errorf("wallet tokens %s on %s: %w", address, chainSlug, err)
	}

	out := make([]entity.TokenBalance, 0, len(resp))
	for _, t := range resp {
		if t.PossibleSpam && !c.config.IncludeSpam {
			continue
		}
		raw, ok := new(big.Int).SetString(t.Balance, 10)
		if !ok || raw.Sign() <= 0 {
			continue
		}
		decimals := entity.UnknownDecimals
		if d, err := t.Decimals.Int64(); err == nil && d >= 0 && d <= 36 {
			decimals = int32(d)
		}
		out = append(out, entity.TokenBalance{
			Address:  strings.ToLower(t.TokenAddress),
			Raw:      raw,
			Decimals: decimals,
			Symbol:   t.Symbol,
			Name:     t.Name,
			LogoURL:  firstNonEmpty(t.Logo, t.Thumbnail),
		})
	}
	return out, nil
}

// GetTokenPrices quotes one batch of ERC20 contracts with a single request.
// The caller owns retries.
func (c *Client) GetTokenPrices(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error) {
	if len(addresses) == 0 {
		return map[string]entity.Price{}, nil
	}
	if chain.IndexerChain == "" {
		return nil, retry.Permanent(fmt.Errorf("chain %s has no indexer chain", chain.Code))
	}
	if len(addresses) > c.config.BatchSize {
		return nil, retry.Permanent(fmt.Errorf("batch of %d exceeds limit %d", len(addresses), c.config.BatchSize))
	}

	body := priceRequest{Tokens: make([]priceRequestToken, len(addresses))}
	for i, addr := range addresses {
		body.Tokens[i] = priceRequestToken{TokenAddress: addr}
	}

	req := c.request(fmt.Sprintf("%s/erc20/prices?%s", c.config.BaseURL,
		url.Values{"chain": {chain.IndexerChain}, "include": {"percent_change"}}.Encode()))
	req.Method = "POST"
	req.Body = body

	var resp []tokenPrice
	if err := c.http.DoSingle(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("token prices on %s: %w", chain.IndexerChain, err)
	}

	byLower := make(map[string]string, len(addresses))
	for _, addr := range addresses {
		byLower[strings.ToLower(addr)] = addr
	}

	out := make(map[string]entity.Price, len(resp))
	for _, p := range resp {
		addr, ok := byLower[strings.ToLower(p.TokenAddress)]
		if !ok || p.USDPrice == nil {
			continue
		}
		price := entity.Price{USD: *p.USDPrice}
		if change, err := p.change(); err == nil {
			price.Change24h = change
		}
		out[addr] = price
	}
	return out, nil
}

// SolanaTokenMetadata returns name, symbol and decimals for an SPL mint.
// network is "mainnet" or "devnet".
func (c *Client) SolanaTokenMetadata(ctx context.Context, network, mint string) (*entity.TokenMetadata, error) {
	endpoint := fmt.Sprintf("%s/token/%s/%s/metadata", c.config.SolanaBaseURL, url.PathEscape(network), url.PathEscape(mint))

	var resp solanaMetadata
	if err := c.http.DoRequest(ctx, c.request(endpoint), &resp); err != nil {
		return nil, fmt.Errorf("solana metadata %s: %w", mint, err)
	}

	decimals, err := strconv.Atoi(strings.TrimSpace(string(resp.Decimals)))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("solana metadata %s: decimals %q: %w", mint, resp.Decimals, err))
	}
	return &entity.TokenMetadata{
		Address:        mint,
		Symbol:         resp.Symbol,
		Name:           resp.Name,
		Decimals:       int32(decimals),
		LogoURL:        resp.Logo,
		TotalSupplyRaw: resp.TotalSupply,
	}, nil
}

func (c *Client) request(endpoint string) httpclient.RequestConfig {
	return httpclient.RequestConfig{
		URL:     endpoint,
		Headers: map[string]string{"X-API-Key": c.config.APIKey},
	}
}

func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return fmt.Errorf("API error: %s: %w", e.Message, &httpclient.StatusError{Code: statusCode, Body: e.Message})
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
