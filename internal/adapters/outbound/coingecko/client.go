// Package coingecko quotes token and native prices using CoinGecko's API.
//
// Contract prices come from /simple/token_price/{platform}, which accepts a
// comma-separated batch of contract addresses. Native assets are quoted by
// coin id through /simple/price. Both include the 24h change.
package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var (
	_ outbound.TokenPriceProvider  = (*Client)(nil)
	_ outbound.ChainSupport        = (*Client)(nil)
	_ outbound.NativePriceProvider = (*Client)(nil)
)

// DefaultBatchSize is the number of contract addresses sent per token_price call.
const DefaultBatchSize = 90

// ClientConfig holds configuration for the CoinGecko client.
type ClientConfig struct {
	// APIKey is the CoinGecko API key.
	APIKey string

	// APIKeyHeader names the header carrying APIKey.
	// Defaults to x-cg-pro-api-key; demo keys use x-cg-demo-api-key.
	APIKeyHeader string

	// BaseURL is the CoinGecko API base URL.
	// Defaults to https://pro-api.coingecko.com/api/v3
	BaseURL string

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MaxRetries applies to native quotes only. Token batches are retried by the caller.
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// RateLimitPerMin is the rate limit in requests per minute.
	// Defaults to 450 to stay safely under CoinGecko Pro's 500/min limit.
	RateLimitPerMin int

	// BatchSize caps the addresses per token_price request. Defaults to 90.
	BatchSize int

	// Logger is the structured logger for the client.
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		APIKeyHeader:    "x-cg-pro-api-key",
		BaseURL:         "https://pro-api.coingecko.com/api/v3",
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BackoffFactor:   2.0,
		RateLimitPerMin: 450,
		BatchSize:       DefaultBatchSize,
		Logger:          slog.Default(),
	}
}

// Client implements the token and native price providers.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a new CoinGecko API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}

	defaults := ClientConfigDefaults()
	applyDefaults(&config, defaults)

	logger := config.Logger.With("component", "coingecko-client")
	rps := float64(config.RateLimitPerMin) / 60.0

	return &Client{
		config: config,
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  config.BackoffFactor,
			Jitter:         false, // Keep deterministic for API rate limiting
			RateLimit:      rate.Limit(rps),
			RateBurst:      1,
		}, logger, parseError),
		logger: logger,
	}, nil
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = defaults.APIKeyHeader
	}
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffFactor == 0 {
		config.BackoffFactor = defaults.BackoffFactor
	}
	if config.RateLimitPerMin == 0 {
		config.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "coingecko"
}

// MaxBatchSize returns the configured token_price batch size.
func (c *Client) MaxBatchSize() int {
	return c.config.BatchSize
}

// Supports reports whether chain has a CoinGecko asset platform.
func (c *Client) Supports(chain entity.Chain) bool {
	return chain.PricePlatform != ""
}

// GetTokenPrices quotes one batch of contract addresses with a single request.
// The caller owns retries; only the rate limiter is applied here.
func (c *Client) GetTokenPrices(ctx context.Context, chain entity.Chain, addresses []string) (map[string]entity.Price, error) {
	if len(addresses) == 0 {
		return map[string]entity.Price{}, nil
	}
	if chain.PricePlatform == "" {
		return nil, retry.Permanent(fmt.Errorf("chain %s has no price platform", chain.Code))
	}
	if len(addresses) > c.config.BatchSize {
		return nil, retry.Permanent(fmt.Errorf("batch of %d exceeds limit %d", len(addresses), c.config.BatchSize))
	}

	endpoint := fmt.Sprintf("%s/simple/token_price/%s", c.config.BaseURL, url.PathEscape(chain.PricePlatform))
	params := url.Values{
		"contract_addresses":  {strings.Join(addresses, ",")},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
	}

	var response priceResponse
	if err := c.http.DoSingle(ctx, c.request(endpoint, params), &response); err != nil {
		return nil, fmt.Errorf("token prices on %s: %w", chain.PricePlatform, err)
	}

	byAddress := make(map[string]entity.Price, len(addresses))
	for _, addr := range addresses {
		raw, ok := response[strings.ToLower(addr)]
		if !ok {
			continue
		}
		p, err := decodePrice(raw)
		if err != nil {
			c.logger.Debug("skipping malformed price entry", "address", addr, "error", err)
			continue
		}
		byAddress[addr] = p
	}
	return byAddress, nil
}

// GetNativePrice quotes the chain's native asset by its CoinGecko coin id.
func (c *Client) GetNativePrice(ctx context.Context, chain entity.Chain) (entity.Price, error) {
	if chain.NativePriceID == "" {
		return entity.Price{}, retry.Permanent(fmt.Errorf("chain %s has no native price id", chain.Code))
	}

	endpoint := fmt.Sprintf("%s/simple/price", c.config.BaseURL)
	params := url.Values{
		"ids":                 {chain.NativePriceID},
		"vs_currencies":       {"usd"},
		"include_24hr_change": {"true"},
	}

	var response priceResponse
	if err := c.http.DoRequest(ctx, c.request(endpoint, params), &response); err != nil {
		return entity.Price{}, fmt.Errorf("native price %s: %w", chain.NativePriceID, err)
	}

	raw, ok := response[chain.NativePriceID]
	if !ok {
		return entity.Price{}, retry.Permanent(fmt.Errorf("no quote for %s", chain.NativePriceID))
	}
	return decodePrice(raw)
}

func (c *Client) request(endpoint string, params url.Values) httpclient.RequestConfig {
	return httpclient.RequestConfig{
		URL:     endpoint + "?" + params.Encode(),
		Headers: map[string]string{c.config.APIKeyHeader: c.config.APIKey},
	}
}

func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var apiErr coinGeckoError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.message() != "" {
		return fmt.Errorf("API error (HTTP %d): %s", statusCode, apiErr.message())
	}
	return nil
}
