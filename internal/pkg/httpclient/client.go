// Package httpclient is the JSON-over-HTTP client shared by the price and
// chain adapters: rate limited, retried, and aware of Retry-After.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
	RateLimit      rate.Limit
	RateBurst      int

	// MaxResponseBytes bounds how much of a body is read. Defaults to 8 MiB.
	MaxResponseBytes int64

	// MaxCooldown caps how long a Retry-After header may pause the client.
	// Defaults to 30s.
	MaxCooldown time.Duration
}

// DefaultConfig returns the settings used when an adapter has no opinion.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MaxRetries:       2,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       10 * time.Second,
		BackoffFactor:    2.0,
		Jitter:           true,
		RateLimit:        rate.Limit(5),
		RateBurst:        1,
		MaxResponseBytes: 8 << 20,
		MaxCooldown:      30 * time.Second,
	}
}

// RequestConfig describes one call. Method defaults to GET; a non-nil Body
// is sent as JSON.
type RequestConfig struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// ErrorParser turns an API's error body into an error, or returns nil when
// the body carries none. It sees every response, including 2xx ones.
type ErrorParser func(statusCode int, body []byte) error

// StatusError is returned for non-2xx responses the parser did not explain.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return "rate limited (HTTP 429)"
	case e.Code >= 500:
		return fmt.Sprintf("server error (HTTP %d)", e.Code)
	default:
		return fmt.Sprintf("client error (HTTP %d): %s", e.Code, e.Body)
	}
}

// Client wraps http.Client with a token-bucket limiter and retries.
type Client struct {
	http        *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	maxBody     int64
	maxCooldown time.Duration
	logger      *slog.Logger
	parse       ErrorParser

	// pausedUntil holds unix nanos before which no request is sent.
	pausedUntil atomic.Int64
}

// NewClient creates a client. A nil parser treats every body as error free.
func NewClient(cfg Config, logger *slog.Logger, errorParser ErrorParser) *Client {
	defaults := DefaultConfig()
	if logger == nil {
		logger = slog.Default()
	}
	if errorParser == nil {
		errorParser = func(int, []byte) error { return nil }
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Inf
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = defaults.MaxCooldown
	}

	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		retryConfig: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  cfg.BackoffFactor,
			Jitter:         cfg.Jitter,
		},
		maxBody:     cfg.MaxResponseBytes,
		maxCooldown: cfg.MaxCooldown,
		logger:      logger,
		parse:       errorParser,
	}
}

// DoRequest sends the request, retrying transient failures, and decodes the
// JSON response into result when it is non-nil.
func (c *Client) DoRequest(ctx context.Context, reqCfg RequestConfig, result any) error {
	return retry.DoVoid(ctx, c.retryConfig, nil,
		func(attempt int, err error, backoff time.Duration) {
			c.logger.Warn("request failed, retrying",
				"url", reqCfg.URL,
				"attempt", attempt,
				"maxRetries", c.retryConfig.MaxRetries,
				"backoff", backoff,
				"error", err)
		},
		func() error { return c.DoSingle(ctx, reqCfg, result) },
	)
}

// DoSingle makes exactly one attempt. Batch callers that own their retry
// budget use it directly.
func (c *Client) DoSingle(ctx context.Context, reqCfg RequestConfig, result any) error {
	if err := c.waitTurn(ctx); err != nil {
		return retry.Permanent(err)
	}
	return c.send(ctx, reqCfg, result)
}

// waitTurn honours an active Retry-After pause, then the limiter.
func (c *Client) waitTurn(ctx context.Context) error {
	if until := c.pausedUntil.Load(); until != 0 {
		if d := time.Until(time.Unix(0, until)); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("waiting out rate limit: %w", ctx.Err())
			case <-t.C:
			}
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, reqCfg RequestConfig, result any) error {
	req, err := c.newRequest(ctx, reqCfg)
	if err != nil {
		return retry.Permanent(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("closing response body", "error", err)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.pause(resp.Header.Get("Retry-After"))
		return &StatusError{Code: resp.StatusCode}
	}
	if resp.StatusCode >= 500 {
		return &StatusError{Code: resp.StatusCode}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if int64(len(payload)) > c.maxBody {
		return retry.Permanent(fmt.Errorf("response body exceeds %d bytes", c.maxBody))
	}

	if resp.StatusCode >= 400 {
		if apiErr := c.parse(resp.StatusCode, payload); apiErr != nil {
			return retry.Permanent(apiErr)
		}
		return retry.Permanent(&StatusError{Code: resp.StatusCode, Body: string(payload)})
	}
	// A 2xx body may still carry an error; the parser decides retryability.
	if apiErr := c.parse(resp.StatusCode, payload); apiErr != nil {
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(payload, result); err != nil {
		return retry.Permanent(fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, reqCfg RequestConfig) (*http.Request, error) {
	method := reqCfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if reqCfg.Body != nil {
		encoded, err := json.Marshal(reqCfg.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqCfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range reqCfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// pause records a Retry-After given in seconds or as an HTTP date.
func (c *Client) pause(retryAfter string) {
	if retryAfter == "" {
		return
	}
	var d time.Duration
	if secs, err := strconv.Atoi(retryAfter); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(retryAfter); err == nil {
		d = time.Until(at)
	}
	if d <= 0 {
		return
	}
	d = min(d, c.maxCooldown)
	c.logger.Warn("upstream asked to back off", "retryAfter", d)
	c.pausedUntil.Store(time.Now().Add(d).UnixNano())
}

// IsStatus reports whether err carries an HTTP status error with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
