// Package etherscan discovers EVM token holdings using Etherscan's V2 API.
// One client serves every chain the V2 API covers; the chain is selected per
// request by its EVM chain id. Holdings are listed page by page through the
// shared rate-limited, retrying HTTP client.
package etherscan

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

	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/evm"
	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

// Compile-time check that Client implements evm.TokenIndexer.
var _ evm.TokenIndexer = (*Client)(nil)

// ClientConfig holds configuration for the Etherscan client.
type ClientConfig struct {
	// APIKey is the Etherscan API key.
	APIKey string

	// BaseURL is the Etherscan API V2 base URL.
	// Defaults to https://api.etherscan.io/v2/api
	BaseURL string

	// PageSize is the number of holdings requested per page. Defaults to 100.
	PageSize int

	// MaxPages bounds the pages read per wallet. Defaults to 10.
	MaxPages int

	// Timeout is the maximum time to wait for a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for transient failures.
	// Use -1 to explicitly disable retries (0 uses default of 3).
	MaxRetries int

	// InitialBackoff is the initial delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between retries.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each retry.
	BackoffFactor float64

	// RateLimitPerSec is the rate limit in requests per second.
	RateLimitPerSec int

	// Logger is the structured logger for the client.
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://api.etherscan.io/v2/api",
		PageSize:        100,
		MaxPages:        10,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  1 * time.Second,
		MaxBackoff:      10 * time.Second,
		BackoffFactor:   2.0,
		RateLimitPerSec: 2, // Free tier: 3 calls/sec, use 2 to be safe
		Logger:          slog.Default(),
	}
}

// Client lists wallet token balances through Etherscan.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a new Etherscan API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}

	defaults := ClientConfigDefaults()
	applyDefaults(&config, defaults)

	logger := config.Logger.With("component", "etherscan-client")
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = config.Timeout
	httpCfg.MaxRetries = config.MaxRetries
	httpCfg.InitialBackoff = config.InitialBackoff
	httpCfg.MaxBackoff = config.MaxBackoff
	httpCfg.BackoffFactor = config.BackoffFactor
	httpCfg.Jitter = false // Keep deterministic for API rate limiting
	httpCfg.RateLimit = rate.Limit(config.RateLimitPerSec)

	return &Client{
		config: config,
		http:   httpclient.NewClient(httpCfg, logger, parseError),
		logger: logger,
	}, nil
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxPages <= 0 {
		config.MaxPages = defaults.MaxPages
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	// MaxRetries: 0 means use default, negative values disable retries (set to 0)
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	} else if config.MaxRetries < 0 {
		config.MaxRetries = 0
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
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Name returns the indexer name.
func (c *Client) Name() string {
	return "etherscan"
}

// Supports reports whether chain is an EVM chain with a chain id.
func (c *Client) Supports(chain entity.Chain) bool {
	return chain.Family == entity.FamilyEVM && chain.EVMChainID != 0
}

// WalletTokens lists every ERC20 holding of address with a positive balance.
func (c *Client) WalletTokens(ctx context.Context, chain entity.Chain, address string) ([]entity.TokenBalance, error) {
	if !c.Supports(chain) {
		return nil, retry.Permanent(fmt.Errorf("chain %s has no EVM chain id", chain.Code))
	}

	var out []entity.TokenBalance
	for page := 1; page <= c.config.MaxPages; page++ {
		params := url.Values{
			"chainid": {strconv.FormatInt(chain.EVMChainID, 10)},
			"module":  {"account"},
			"action":  {"addresstokenbalance"},
			"address": {address},
			"page":    {strconv.Itoa(page)},
			"offset":  {strconv.Itoa(c.config.PageSize)},
			"apikey":  {c.config.APIKey},
		}

		holdings, err := c.fetchPage(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("token balances %s on chain %d: %w", address, chain.EVMChainID, err)
		}

		for _, h := range holdings {
			if tb, ok := toTokenBalance(h); ok {
				out = append(out, tb)
			}
		}
		if len(holdings) < c.config.PageSize {
			return out, nil
		}
	}

	c.logger.Warn("token listing truncated", "chain", chain.Code, "address", address, "pages", c.config.MaxPages)
	return out, nil
}

func toTokenBalance(h tokenHolding) (entity.TokenBalance, bool) {
	raw, ok := new(big.Int).SetString(strings.TrimSpace(h.TokenQuantity), 10)
	if !ok || raw.Sign() <= 0 || h.TokenAddress == "" {
		return entity.TokenBalance{}, false
	}
	decimals := entity.UnknownDecimals
	if d, err := strconv.Atoi(strings.TrimSpace(h.TokenDivisor)); err == nil && d >= 0 && d <= 36 {
		decimals = int32(d)
	}
	return entity.TokenBalance{
		Address:  strings.ToLower(h.TokenAddress),
		Raw:      raw,
		Decimals: decimals,
		Symbol:   h.TokenSymbol,
		Name:     h.TokenName,
	}, true
}

// errNoData marks the in-band "status 0" answer for an empty listing.
var errNoData = errors.New("no data")

// fetchPage reads one page. An empty listing yields no holdings.
func (c *Client) fetchPage(ctx context.Context, params url.Values) ([]tokenHolding, error) {
	var response tokenBalanceResponse
	err := c.http.DoRequest(ctx, httpclient.RequestConfig{URL: c.config.BaseURL + "?" + params.Encode()}, &response)
	if errors.Is(err, errNoData) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return response.Result, nil
}

// parseError maps Etherscan's error envelopes. Failures arrive in-band with
// status "0" on HTTP 200 as well as on 4xx responses.
func parseError(statusCode int, body []byte) error {
	var apiErr etherscanError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil
	}
	if statusCode >= 400 {
		if apiErr.Message == "" {
			return nil
		}
		return fmt.Errorf("API error (HTTP %d): %s - %s", statusCode, apiErr.Message, apiErr.result())
	}
	if apiErr.Status != "0" {
		return nil
	}
	if apiErr.noData() {
		return retry.Permanent(errNoData)
	}
	if strings.Contains(strings.ToLower(apiErr.result()), "rate limit") {
		return fmt.Errorf("rate limited: %s", apiErr.result())
	}
	return retry.Permanent(fmt.Errorf("API error: %s - %s", apiErr.Message, apiErr.result()))
}
