// Package kadena implements the multi-ledger chain adapter for Kadena.
//
// Kadena splits every account across parallel chains (ledgers 0..19). Each
// balance is read with a read-only Pact command sent to the ledger's /local
// endpoint; the fan-out over ledgers is the balance fetcher's job.
package kadena

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/httpclient"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.MultiLedgerAdapter = (*Adapter)(nil)

// Decimals is the precision of KDA and of fungible-v2 tokens by convention.
const Decimals int32 = 12

// CoinModule is the module holding the native asset.
const CoinModule = "coin"

// DefaultLedgerCount is the number of chains on mainnet and testnet.
const DefaultLedgerCount = 20

var (
	kAccount   = regexp.MustCompile(`^k:[0-9a-fA-F]{64}$`)
	principal  = regexp.MustCompile(`^[rwuc]:[^\s"\\]+$`)
	legacyName = regexp.MustCompile(`^[^\s"\\]{3,256}$`)
	moduleName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-]*(\.[a-zA-Z][a-zA-Z0-9_\-]*)?$`)
)

// Config holds configuration for the Kadena adapter.
type Config struct {
	// BaseURL is the chainweb node, e.g. https://api.chainweb.com.
	BaseURL string

	// TokenModules are the fungible-v2 modules tracked on this chain.
	// Decimals default to 12 and Symbol to the upper-cased module name.
	TokenModules []entity.TokenMetadata

	GasLimit  int
	GasPrice  float64
	TTL       int
	ClockSkew time.Duration

	Timeout         time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	RateLimitPerSec int

	Logger *slog.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		BaseURL:         "https://api.chainweb.com",
		GasLimit:        1000,
		GasPrice:        1e-5,
		TTL:             28800,
		ClockSkew:       30 * time.Second,
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		InitialBackoff:  250 * time.Millisecond,
		MaxBackoff:      2 * time.Second,
		RateLimitPerSec: 50,
		Logger:          slog.Default(),
		Now:             time.Now,
	}
}

// Adapter reads KDA and fungible-v2 balances from chainweb.
type Adapter struct {
	chain   entity.Chain
	network string
	ledgers []int
	modules []entity.TokenMetadata
	config  Config
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewAdapter creates a Kadena adapter for chain. chain.Network selects the
// chainweb network (mainnet01, testnet04); chain.Ledgers defaults to 0..19.
func NewAdapter(chain entity.Chain, config Config) (*Adapter, error) {
	if chain.Family != entity.FamilyKadena {
		return nil, fmt.Errorf("chain %s is not a Kadena chain", chain.Code)
	}
	if chain.Network == "" {
		return nil, fmt.Errorf("chain %s: network id must be set", chain.Code)
	}
	applyDefaults(&config, ConfigDefaults())

	ledgers := chain.Ledgers
	if len(ledgers) == 0 {
		ledgers = make([]int, DefaultLedgerCount)
		for i := range ledgers {
			ledgers[i] = i
		}
	}

	modules := make([]entity.TokenMetadata, 0, len(config.TokenModules))
	for _, m := range config.TokenModules {
		if !moduleName.MatchString(m.Address) || m.Address == CoinModule {
			return nil, fmt.Errorf("chain %s: invalid token module %q", chain.Code, m.Address)
		}
		if m.Decimals <= 0 {
			m.Decimals = Decimals
		}
		if m.Symbol == "" {
			m.Symbol = defaultSymbol(m.Address)
		}
		if m.Name == "" {
			m.Name = m.Address
		}
		modules = append(modules, m)
	}

	logger := config.Logger.With("component", "kadena-adapter", "chain", chain.Code)
	return &Adapter{
		chain:   chain,
		network: chain.Network,
		ledgers: ledgers,
		modules: modules,
		config:  config,
		http: httpclient.NewClient(httpclient.Config{
			Timeout:        config.Timeout,
			MaxRetries:     config.MaxRetries,
			InitialBackoff: config.InitialBackoff,
			MaxBackoff:     config.MaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         true,
			RateLimit:      rate.Limit(config.RateLimitPerSec),
			RateBurst:      config.RateLimitPerSec,
		}, logger, parseError),
		logger: logger,
	}, nil
}

func applyDefaults(config *Config, defaults Config) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.GasLimit == 0 {
		config.GasLimit = defaults.GasLimit
	}
	if config.GasPrice == 0 {
		config.GasPrice = defaults.GasPrice
	}
	if config.TTL == 0 {
		config.TTL = defaults.TTL
	}
	if config.ClockSkew == 0 {
		config.ClockSkew = defaults.ClockSkew
	}
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
	if config.RateLimitPerSec == 0 {
		config.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
}

func (a *Adapter) Chain() entity.Chain {
	return a.chain
}

// ValidateAddress accepts k: accounts, principal accounts (r:, w:, u:, c:)
// and legacy names of 3 to 256 characters.
func (a *Adapter) ValidateAddress(address string) error {
	switch {
	case strings.HasPrefix(address, "k:"):
		if !kAccount.MatchString(address) {
			return fmt.Errorf("%w: %q is not k: followed by a 64 hex public key", entity.ErrInvalidAddress, address)
		}
	case len(address) > 2 && address[1] == ':' && strings.ContainsRune("rwuc", rune(address[0])):
		if !principal.MatchString(address) || len(address) > 256 {
			return fmt.Errorf("%w: malformed principal %q", entity.ErrInvalidAddress, address)
		}
	default:
		if !legacyName.MatchString(address) {
			return fmt.Errorf("%w: %q must be 3 to 256 characters without whitespace or quotes", entity.ErrInvalidAddress, address)
		}
	}
	return nil
}

// CanonicalAddress returns address unchanged; Kadena account names are case-sensitive.
func (a *Adapter) CanonicalAddress(address string) string {
	return strings.TrimSpace(address)
}

func (a *Adapter) Ledgers() []int {
	return append([]int(nil), a.ledgers...)
}

func (a *Adapter) TokenModules() []entity.TokenMetadata {
	return append([]entity.TokenMetadata(nil), a.modules...)
}

// FetchNativeBalance returns the anchor ledger's KDA balance.
func (a *Adapter) FetchNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	return a.FetchLedgerNativeBalance(ctx, entity.AnchorLedger, address)
}

func (a *Adapter) FetchLedgerNativeBalance(ctx context.Context, ledger int, address string) (*big.Int, error) {
	return a.getBalance(ctx, ledger, CoinModule, address)
}

func (a *Adapter) FetchLedgerTokenBalance(ctx context.Context, ledger int, tokenAddress, address string) (*big.Int, error) {
	if !moduleName.MatchString(tokenAddress) {
		return nil, retry.Permanent(fmt.Errorf("%w: invalid module name %q", entity.ErrUnknownTokenStandard, tokenAddress))
	}
	return a.getBalance(ctx, ledger, tokenAddress, address)
}

// FetchTokenBalances returns tracked module holdings on the anchor ledger.
// Totals across ledgers come from the multi-ledger fan-out.
func (a *Adapter) FetchTokenBalances(ctx context.Context, address string) ([]entity.TokenBalance, error) {
	var out []entity.TokenBalance
	for _, m := range a.modules {
		raw, err := a.getBalance(ctx, entity.AnchorLedger, m.Address, address)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", m.Address, err)
		}
		if raw.Sign() == 0 {
			continue
		}
		out = append(out, entity.TokenBalance{
			Address:  m.Address,
			Raw:      raw,
			Decimals: m.Decimals,
			Symbol:   m.Symbol,
			Name:     m.Name,
			LogoURL:  m.LogoURL,
		})
	}
	return out, nil
}

// FetchTokenMetadata returns configured metadata for tracked modules and
// otherwise asks the anchor ledger for (module.precision).
func (a *Adapter) FetchTokenMetadata(ctx context.Context, tokenAddress string) (*entity.TokenMetadata, error) {
	for _, m := range a.modules {
		if m.Address == tokenAddress {
			meta := m
			return &meta, nil
		}
	}
	if !moduleName.MatchString(tokenAddress) {
		return nil, retry.Permanent(fmt.Errorf("%w: invalid module name %q", entity.ErrUnknownTokenStandard, tokenAddress))
	}

	data, err := a.local(ctx, entity.AnchorLedger, fmt.Sprintf("(%s.precision)", tokenAddress), nil)
	if err != nil {
		return nil, fmt.Errorf("precision of %s: %w", tokenAddress, err)
	}
	precision, err := decodeInt(data)
	if err != nil || precision < 0 || precision > 36 {
		return nil, retry.Permanent(fmt.Errorf("%w: %s precision %s", entity.ErrUnknownTokenStandard, tokenAddress, data))
	}
	return &entity.TokenMetadata{
		Address:  tokenAddress,
		Symbol:   defaultSymbol(tokenAddress),
		Name:     tokenAddress,
		Decimals: int32(precision),
	}, nil
}

// getBalance runs (<module>.get-balance account) on one ledger. The account is
// passed through the command's data so it is never spliced into Pact code.
func (a *Adapter) getBalance(ctx context.Context, ledger int, module, address string) (*big.Int, error) {
	if err := a.ValidateAddress(address); err != nil {
		return nil, retry.Permanent(err)
	}
	code := fmt.Sprintf(`(%s.get-balance (read-msg "account"))`, module)

	data, err := a.local(ctx, ledger, code, map[string]any{"account": address})
	if err != nil {
		if isNoValueFound(err) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("ledger %d %s balance: %w", ledger, module, err)
	}

	amount, err := decodeDecimal(data)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("ledger %d %s balance: %w", ledger, module, err))
	}
	raw, err := entity.ParseUnits(amount, a.decimalsFor(module))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("ledger %d %s balance: %w", ledger, module, err))
	}
	return raw, nil
}

func (a *Adapter) decimalsFor(module string) int32 {
	for _, m := range a.modules {
		if m.Address == module {
			return m.Decimals
		}
	}
	return Decimals
}

// local sends a read-only command to one ledger and returns result.data.
func (a *Adapter) local(ctx context.Context, ledger int, code string, data map[string]any) (json.RawMessage, error) {
	body, err := a.buildLocal(ledger, code, data, a.config.Now())
	if err != nil {
		return nil, retry.Permanent(err)
	}

	endpoint := fmt.Sprintf("%s/chainweb/0.0/%s/chain/%d/pact/api/v1/local", a.config.BaseURL, a.network, ledger)
	var resp localResponse
	if err := a.http.DoRequest(ctx, httpclient.RequestConfig{
		Method: "POST",
		URL:    endpoint,
		Body:   body,
	}, &resp); err != nil {
		return nil, err
	}

	if resp.Result.Status != "success" {
		msg := "unknown pact failure"
		if resp.Result.Error != nil && resp.Result.Error.Message != "" {
			msg = resp.Result.Error.Message
		}
		return nil, retry.Permanent(&pactError{message: msg})
	}
	return resp.Result.Data, nil
}

// pactError is a failed command result.
type pactError struct {
	message string
}

func (e *pactError) Error() string {
	return "pact: " + e.message
}

func isNoValueFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), noValueFound)
}

// parseError keeps chainweb's plain-text rejection reasons.
func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return nil
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return fmt.Errorf("chainweb error (HTTP %d): %s", statusCode, msg)
}

func defaultSymbol(module string) string {
	name := module
	if i := strings.LastIndexByte(module, '.'); i >= 0 {
		name = module[i+1:]
	}
	return strings.ToUpper(name)
}
