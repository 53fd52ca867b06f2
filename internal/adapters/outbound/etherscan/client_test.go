package etherscan

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

var mainnet = entity.Chain{Code: "ETH", Family: entity.FamilyEVM, EVMChainID: 1}

func newTestClient(t *testing.T, serverURL string, cfg ClientConfig) *Client {
	t.Helper()
	cfg.APIKey = "test-api-key"
	cfg.BaseURL = serverURL
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.RateLimitPerSec = 1000
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: ClientConfig{
				APIKey: "test-api-key",
			},
			wantErr: false,
		},
		{
			name:    "missing API key",
			config:  ClientConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && client == nil {
				t.Error("NewClient() returned nil client")
			}
		})
	}
}

func TestClient_NameAndSupports(t *testing.T) {
	client, _ := NewClient(ClientConfig{APIKey: "test"})
	if got := client.Name(); got != "etherscan" {
		t.Errorf("Name() = %v, want etherscan", got)
	}
	if !client.Supports(mainnet) {
		t.Error("expected mainnet to be supported")
	}
	if client.Supports(entity.Chain{Code: "SOL", Family: entity.FamilySolana}) {
		t.Error("non-EVM chain should not be supported")
	}
	if client.Supports(entity.Chain{Code: "X", Family: entity.FamilyEVM}) {
		t.Error("EVM chain without chain id should not be supported")
	}
}

func TestClient_WalletTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("chainid") != "1" || q.Get("action") != "addresstokenbalance" || q.Get("address") != "0xwallet" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("apikey") != "test-api-key" {
			t.Error("missing api key")
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"TokenAddress":"0xA0B86991C6218B36C1D19D4A2E9EB0CE3606EB48","TokenName":"USD Coin","TokenSymbol":"USDC","TokenQuantity":"1500000","TokenDivisor":"6"},
			{"TokenAddress":"0xbbbb","TokenSymbol":"ZERO","TokenQuantity":"0","TokenDivisor":"18"},
			{"TokenAddress":"0xcccc","TokenSymbol":"ODD","TokenQuantity":"7","TokenDivisor":"x"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{})
	tokens, err := client.WalletTokens(context.Background(), mainnet, "0xwallet")
	if err != nil {
		t.Fatalf("WalletTokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2 (zero balance skipped): %+v", len(tokens), tokens)
	}
	usdc := tokens[0]
	if usdc.Address != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" || usdc.Raw.Int64() != 1500000 || usdc.Decimals != 6 || usdc.Symbol != "USDC" {
		t.Errorf("token = %+v", usdc)
	}
	if tokens[1].Decimals != entity.UnknownDecimals {
		t.Errorf("bad divisor decimals = %d, want unknown", tokens[1].Decimals)
	}
}

func TestClient_WalletTokens_Pages(t *testing.T) {
	var pages atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := pages.Add(1)
		if got := r.URL.Query().Get("page"); got != fmt.Sprint(page) {
			t.Errorf("page = %s, want %d", got, page)
		}
		if page == 1 {
			_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
				{"TokenAddress":"0x01","TokenQuantity":"1","TokenDivisor":"0"},
				{"TokenAddress":"0x02","TokenQuantity":"2","TokenDivisor":"0"}
			]}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"TokenAddress":"0x03","TokenQuantity":"3","TokenDivisor":"0"}
		]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{PageSize: 2})
	tokens, err := client.WalletTokens(context.Background(), mainnet, "0xwallet")
	if err != nil {
		t.Fatalf("WalletTokens: %v", err)
	}
	if len(tokens) != 3 || pages.Load() != 2 {
		t.Errorf("tokens=%d pages=%d, want 3 and 2", len(tokens), pages.Load())
	}
}

func TestClient_WalletTokens_NoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No data found","result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{})
	tokens, err := client.WalletTokens(context.Background(), mainnet, "0xwallet")
	if err != nil {
		t.Fatalf("WalletTokens: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("tokens = %+v, want none", tokens)
	}
}

func TestClient_WalletTokens_NoDataStringResult(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":"No transactions found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{MaxRetries: 3})
	tokens, err := client.WalletTokens(context.Background(), mainnet, "0xwallet")
	if err != nil {
		t.Fatalf("WalletTokens: %v", err)
	}
	if len(tokens) != 0 || attempts.Load() != 1 {
		t.Errorf("tokens=%+v attempts=%d, want none after one attempt", tokens, attempts.Load())
	}
}

func TestClient_TooManyRequestsIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{MaxRetries: 2})
	if _, err := client.WalletTokens(context.Background(), mainnet, "0xwallet"); err != nil {
		t.Fatalf("WalletTokens: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestClient_WalletTokens_UnsupportedChain(t *testing.T) {
	client, _ := NewClient(ClientConfig{APIKey: "test"})
	_, err := client.WalletTokens(context.Background(), entity.Chain{Code: "X", Family: entity.FamilyEVM}, "0xwallet")
	if !retry.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestClient_RetryLogic(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{MaxRetries: 3, BackoffFactor: 2.0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.WalletTokens(ctx, mainnet, "0xwallet"); err != nil {
		t.Errorf("expected success after retries, got error: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestClient_NonRetryableError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   `{"status": "0", "message": "NOTOK", "result": "Invalid API Key"}`,
		},
		{
			name:   "in-band error",
			status: http.StatusOK,
			body:   `{"status": "0", "message": "NOTOK", "result": "API Pro endpoint"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, ClientConfig{MaxRetries: 3})
			_, err := client.WalletTokens(context.Background(), mainnet, "0xwallet")
			if err == nil {
				t.Fatal("expected error")
			}
			if !retry.IsPermanent(err) {
				t.Errorf("err = %v, want permanent", err)
			}
			if !strings.Contains(err.Error(), "NOTOK") {
				t.Errorf("err = %v, want API message", err)
			}
			if attempts.Load() != 1 {
				t.Errorf("expected 1 attempt for non-retryable error, got %d", attempts.Load())
			}
		})
	}
}

func TestClient_RateLimitMessageIsRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, ClientConfig{MaxRetries: 2})
	if _, err := client.WalletTokens(context.Background(), mainnet, "0xwallet"); err != nil {
		t.Fatalf("WalletTokens: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}
