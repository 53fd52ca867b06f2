// Package cryptocompare quotes native assets by ticker symbol.
//
// The spot price comes from /data/price. The 24h change is derived from the
// opening price of the hourly candle 24 hours back (/data/v2/histohour).
package cryptocompare

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.NativePriceProvider = (*Client)(nil)

// ClientConfig holds configuration for the CryptoCompare client.
type ClientConfig struct {
	// APIKey is optional; anonymous requests get a lower rate limit.
	APIKey string

	// BaseURL defaults to https://min-api.cryptocompare.com
	BaseURL string

	Timeout    time.Duration
	MaxRetries int

	// RateLimitPerSec bounds outgoing requests. Defaults to 5.
	RateLimitPerSec float64

	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:         "https://min-api.cryptocompare.com",
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RateLimitPerSec: 5,
		Logger:          slog.Default(),
	}
}

// Client implements outbound.NativePriceProvider.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a CryptoCompare client.
func NewClient(config ClientConfig) *Client {
	defaults := ClientConfigDefaults()
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
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	logger := config.Logger.With("component", "cryptocompare-client")
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = config.Timeout
	httpCfg.MaxRetries = config.MaxRetries
	httpCfg.RateLimit = rate.Limit(config.RateLimitPerSec)

	return &Client{
		config: config,
		http:   httpclient.NewClient(httpCfg, logger, parseError),
		logger: logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "cryptocompare"
}

// GetNativePrice quotes chain.NativeSymbol in USD. A failed change lookup
// degrades to a zero change rather than failing the quote.
func (c *Client) GetNativePrice(ctx context.Context, chain entity.Chain) (entity.Price, error) {
	symbol := strings.ToUpper(chain.NativeSymbol)
	if symbol == "" {
		return entity.Price{}, retry.Permanent(fmt.Errorf("chain %s has no native symbol", chain.Code))
	}

	spot, err := c.spot(ctx, symbol)
	if err != nil {
		return entity.Price{}, err
	}

	change, err := c.change24h(ctx, symbol, spot)
	if err != nil {
		c.logger.Warn("24h change unavailable", "symbol", symbol, "error", err)
		change = decimal.Zero
	}
	return entity.Price{USD: spot, Change24h: change}, nil
}

func (c *Client) spot(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{"fsym": {symbol}, "tsyms": {"USD"}}
	var resp map[string]json.RawMessage
	if err := c.http.DoRequest(ctx, c.request("/data/price", params), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", symbol, err)
	}
	raw, ok := resp["USD"]
	if !ok {
		return decimal.Zero, retry.Permanent(fmt.Errorf("price %s: no USD quote", symbol))
	}
	var usd decimal.Decimal
	if err := json.Unmarshal(raw, &usd); err != nil {
		return decimal.Zero, retry.Permanent(fmt.Errorf("price %s: %w", symbol, err))
	}
	return usd, nil
}

func (c *Client) change24h(ctx context.Context, symbol string, spot decimal.Decimal) (decimal.Decimal, error) {
	params := url.Values{"fsym": {symbol}, "tsym": {"USD"}, "limit": {"24"}}
	var resp histoResponse
	if err := c.http.DoRequest(ctx, c.request("/data/v2/histohour", params), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("history %s: %w", symbol, err)
	}
	if len(resp.Data.Data) == 0 {
		return decimal.Zero, fmt.Errorf("history %s: no candles", symbol)
	}
	open := resp.Data.Data[0].Open
	if open.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("history %s: non-positive open %s", symbol, open)
	}
	return spot.Sub(open).Div(open).Mul(decimal.NewFromInt(100)).Round(4), nil
}

func (c *Client) request(path string, params url.Values) httpclient.RequestConfig {
	req := httpclient.RequestConfig{URL: c.config.BaseURL + path + "?" + params.Encode()}
	if c.config.APIKey != "" {
		req.Headers = map[string]string{"authorization": "Apikey " + c.config.APIKey}
	}
	return req
}

// histoResponse is the /data/v2/histohour envelope.
type histoResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []struct {
			Time  int64           `json:"time"`
			Open  decimal.Decimal `json:"open"`
			Close decimal.Decimal `json:"close"`
		} `json:"Data"`
	} `json:"Data"`
}

// apiError is returned with HTTP 200 and Response "Error".
type apiError struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}

func parseError(_ int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || e.Response != "Error" {
		return nil
	}
	// Rate limit messages are worth retrying, everything else is not.
	if strings.Contains(strings.ToLower(e.Message), "rate limit") {
		return fmt.Errorf("cryptocompare: %s", e.Message)
	}
	return retry.Permanent(fmt.Errorf("cryptocompare: %s", e.Message))
}
