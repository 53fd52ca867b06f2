// Package balance_fetcher reads native and token balances through chain
// adapters, fanning out across ledgers on multi-ledger chains and caching
// combined results for a short window.
package balance_fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/services/shared"
)

const tracerName = "github.com/archon-research/stl/stl-balances/internal/services/balance_fetcher"

// Config holds configuration for the balance fetcher.
type Config struct {
	// Concurrency bounds in-flight ledger queries per fan-out. Defaults to 10.
	Concurrency int

	// BalanceTTL is how long combined balances stay cached. Defaults to 60s.
	BalanceTTL time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		Concurrency: 10,
		BalanceTTL:  shared.BalanceTTL,
	}
}

// FetchOptions tunes one fetch.
type FetchOptions struct {
	Force bool
}

// NativeResult is the combined native balance of one wallet.
type NativeResult struct {
	Raw               *big.Int
	Ledgers           []entity.LedgerBalance
	FailedLedgers     []int
	AnchorProbe       *big.Int
	AnchorSubstituted bool
	FromCache         bool

	// AnchorErr is set when the anchor probe failed. The probe then
	// counts as zero and cannot stand in for a zero total.
	AnchorErr error
}

// Degraded reports whether any ledger or the anchor probe failed and was
// counted as zero.
func (r *NativeResult) Degraded() bool {
	return len(r.FailedLedgers) > 0 || r.AnchorErr != nil
}

// TokenResult is the set of non-native holdings of one wallet.
type TokenResult struct {
	Tokens      []entity.TokenBalance
	FailedUnits int
	FromCache   bool
}

// Complete reports whether every unit of token discovery succeeded.
func (r *TokenResult) Complete() bool {
	return r.FailedUnits == 0
}

type cachedNative struct {
	Raw string `json:"raw"`
}

type cachedToken struct {
	Address  string `json:"address"`
	Raw      string `json:"raw"`
	Decimals int32  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	LogoURL  string `json:"logoUrl,omitempty"`
}

// Service fetches balances through chain adapters.
type Service struct {
	concurrency int
	ttl         time.Duration
	cache       *shared.JSONCache
	metrics     outbound.SyncMetrics
	logger      *slog.Logger
}

// NewService creates a fetcher. cache and metrics may be nil.
func NewService(cfg Config, cache *shared.JSONCache, metrics outbound.SyncMetrics) *Service {
	defaults := ConfigDefaults()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.BalanceTTL <= 0 {
		cfg.BalanceTTL = defaults.BalanceTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = outbound.NopSyncMetrics{}
	}

	return &Service{
		concurrency: cfg.Concurrency,
		ttl:         cfg.BalanceTTL,
		cache:       cache,
		metrics:     metrics,
		logger:      logger.With("component", "balance-fetcher"),
	}
}

// FetchNative returns the wallet's native balance, summed over every ledger
// on multi-ledger chains. Degraded sums are returned but never cached.
func (s *Service) FetchNative(ctx context.Context, adapter outbound.ChainAdapter, address string, opts FetchOptions) (*NativeResult, error) {
	chain := adapter.Chain()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "balance_fetcher.FetchNative",
		trace.WithAttributes(
			attribute.String("chain", chain.Code),
			attribute.Int("ledgers", chain.LedgerCount()),
			attribute.Bool("force", opts.Force),
		),
	)
	defer span.End()

	var result *NativeResult
	key := shared.BalanceCacheKey(chain.Code, address)
	cached, hit, err := shared.Fetch(ctx, s.cache, shared.ConcernBalance, key, s.ttl, opts.Force,
		func(ctx context.Context) (cachedNative, bool, error) {
			r, err := s.loadNative(ctx, adapter, address)
			if err != nil {
				return cachedNative{}, false, err
			}
			result = r
			return cachedNative{Raw: r.Raw.String()}, !r.Degraded(), nil
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "native balance fetch failed")
		return nil, err
	}

	if hit {
		raw, err := entity.ParseRaw(cached.Raw)
		if err != nil {
			return nil, fmt.Errorf("decoding cached balance: %w", err)
		}
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return &NativeResult{Raw: raw, FromCache: true}, nil
	}

	span.SetAttributes(
		attribute.Int("failed_ledgers", len(result.FailedLedgers)),
		attribute.Bool("anchor_substituted", result.AnchorSubstituted),
	)
	return result, nil
}

func (s *Service) loadNative(ctx context.Context, adapter outbound.ChainAdapter, address string) (*NativeResult, error) {
	ml, ok := adapter.(outbound.MultiLedgerAdapter)
	if !ok || len(ml.Ledgers()) <= 1 {
		raw, err := adapter.FetchNativeBalance(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("fetching native balance: %w", err)
		}
		return &NativeResult{Raw: nonNil(raw)}, nil
	}
	return s.fanOutNative(ctx, ml, address)
}

// fanOutNative probes the anchor ledger, then queries every ledger (anchor
// included) with bounded concurrency. A failed ledger contributes zero.
func (s *Service) fanOutNative(ctx context.Context, adapter outbound.MultiLedgerAdapter, address string) (*NativeResult, error) {
	chain := adapter.Chain()
	ledgers := adapter.Ledgers()

	// Only input errors abort. Any other probe failure is one more failed
	// unit; the remaining ledgers still answer.
	probe, probeErr := adapter.FetchLedgerNativeBalance(ctx, entity.AnchorLedger, address)
	if probeErr != nil {
		if entity.IsInputError(probeErr) {
			return nil, fmt.Errorf("anchor ledger %d: %w", entity.AnchorLedger, probeErr)
		}
		s.metrics.RecordLedgerFailure(ctx, chain.Code, entity.AnchorLedger)
		s.logger.Warn("anchor probe failed, counting as zero",
			"chain", chain.Code,
			"ledger", entity.AnchorLedger,
			"permanent", retry.IsPermanent(probeErr),
			"error", probeErr,
		)
		probe = nil
	}

	outcomes := make([]entity.LedgerBalance, len(ledgers))
	s.fanOut(ctx, len(ledgers), func(ctx context.Context, i int) {
		raw, err := adapter.FetchLedgerNativeBalance(ctx, ledgers[i], address)
		outcomes[i] = entity.LedgerBalance{Ledger: ledgers[i], Raw: raw, Err: err}
	})

	result := &NativeResult{Raw: new(big.Int), Ledgers: outcomes, AnchorProbe: probe, AnchorErr: probeErr}
	for _, o := range outcomes {
		if o.Err != nil {
			result.FailedLedgers = append(result.FailedLedgers, o.Ledger)
			s.metrics.RecordLedgerFailure(ctx, chain.Code, o.Ledger)
			s.logger.Warn("ledger query failed, counting as zero",
				"chain", chain.Code,
				"ledger", o.Ledger,
				"error", o.Err,
			)
			continue
		}
		result.Raw.Add(result.Raw, nonNil(o.Raw))
	}

	if len(result.FailedLedgers) == len(ledgers) && probe == nil {
		return nil, fmt.Errorf("native balance on %s: %w (%d ledgers)", chain.Code, entity.ErrAllUnitsFailed, len(ledgers))
	}

	// Some backends intermittently report zero on every ledger while the
	// anchor probe saw funds; trust the probe in that case.
	if result.Raw.Sign() == 0 && probe != nil && probe.Sign() > 0 {
		result.Raw.Set(probe)
		result.AnchorSubstituted = true
		s.metrics.RecordAnchorSubstitution(ctx, chain.Code)
		s.logger.Warn("fan-out total was zero, using anchor probe",
			"chain", chain.Code,
			"address", address,
			"probe", probe.String(),
			"failedLedgers", len(result.FailedLedgers),
		)
	}

	return result, nil
}

// FetchTokens returns the wallet's non-native holdings. Results with failed
// units are returned but not cached.
func (s *Service) FetchTokens(ctx context.Context, adapter outbound.ChainAdapter, address string, opts FetchOptions) (*TokenResult, error) {
	chain := adapter.Chain()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "balance_fetcher.FetchTokens",
		trace.WithAttributes(
			attribute.String("chain", chain.Code),
			attribute.Bool("force", opts.Force),
		),
	)
	defer span.End()

	var result *TokenResult
	key := shared.TokensCacheKey(chain.Code, address)
	cached, hit, err := shared.Fetch(ctx, s.cache, shared.ConcernTokens, key, s.ttl, opts.Force,
		func(ctx context.Context) ([]cachedToken, bool, error) {
			r, err := s.loadTokens(ctx, adapter, address)
			if err != nil {
				return nil, false, err
			}
			result = r
			return toCachedTokens(r.Tokens), r.Complete(), nil
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token discovery failed")
		return nil, err
	}

	if hit {
		tokens, err := fromCachedTokens(cached)
		if err != nil {
			return nil, fmt.Errorf("decoding cached tokens: %w", err)
		}
		return &TokenResult{Tokens: tokens, FromCache: true}, nil
	}

	span.SetAttributes(attribute.Int("tokens", len(result.Tokens)), attribute.Int("failed_units", result.FailedUnits))
	return result, nil
}

func (s *Service) loadTokens(ctx context.Context, adapter outbound.ChainAdapter, address string) (*TokenResult, error) {
	ml, ok := adapter.(outbound.MultiLedgerAdapter)
	if !ok || len(ml.Ledgers()) <= 1 {
		tokens, err := adapter.FetchTokenBalances(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("fetching token balances: %w", err)
		}
		return &TokenResult{Tokens: nonZero(tokens)}, nil
	}
	return s.fanOutTokens(ctx, ml, address)
}

// fanOutTokens queries every (module, ledger) pair through one bounded pool
// and sums per module.
func (s *Service) fanOutTokens(ctx context.Context, adapter outbound.MultiLedgerAdapter, address string) (*TokenResult, error) {
	chain := adapter.Chain()
	modules := adapter.TokenModules()
	ledgers := adapter.Ledgers()
	if len(modules) == 0 {
		return &TokenResult{}, nil
	}

	outcomes := make([]entity.LedgerBalance, len(modules)*len(ledgers))
	s.fanOut(ctx, len(outcomes), func(ctx context.Context, i int) {
		module := modules[i/len(ledgers)]
		ledger := ledgers[i%len(ledgers)]
		raw, err := adapter.FetchLedgerTokenBalance(ctx, ledger, module.Address, address)
		outcomes[i] = entity.LedgerBalance{Ledger: ledger, Raw: raw, Err: err}
	})

	result := &TokenResult{}
	for m, module := range modules {
		total := new(big.Int)
		failed := 0
		for l := range ledgers {
			o := outcomes[m*len(ledgers)+l]
			if o.Err != nil {
				failed++
				s.metrics.RecordLedgerFailure(ctx, chain.Code, o.Ledger)
				s.logger.Warn("token ledger query failed, counting as zero",
					"chain", chain.Code,
					"token", module.Address,
					"ledger", o.Ledger,
					"error", o.Err,
				)
				continue
			}
			total.Add(total, nonNil(o.Raw))
		}
		result.FailedUnits += failed
		if total.Sign() == 0 {
			continue
		}
		result.Tokens = append(result.Tokens, entity.TokenBalance{
			Address:  module.Address,
			Raw:      total,
			Decimals: module.Decimals,
			Symbol:   module.Symbol,
			Name:     module.Name,
		})
	}

	if result.FailedUnits == len(outcomes) {
		return nil, fmt.Errorf("token balances on %s: %w", chain.Code, entity.ErrAllUnitsFailed)
	}
	return result, nil
}

// fanOut runs fn for 0..n-1 with at most s.concurrency in flight and returns
// once every call has finished.
func (s *Service) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		sem <- struct{}{}
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, i)
		}(i)
	}

	wg.Wait()
}

// InvalidateWallet drops the cached balances of one wallet.
func (s *Service) InvalidateWallet(ctx context.Context, chainCode, address string) {
	s.cache.Delete(ctx, shared.BalanceCacheKey(chainCode, address), shared.TokensCacheKey(chainCode, address))
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonZero(tokens []entity.TokenBalance) []entity.TokenBalance {
	out := tokens[:0:0]
	for _, t := range tokens {
		if t.Raw == nil || t.Raw.Sign() <= 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func toCachedTokens(tokens []entity.TokenBalance) []cachedToken {
	out := make([]cachedToken, len(tokens))
	for i, t := range tokens {
		out[i] = cachedToken{
			Address:  t.Address,
			Raw:      t.Raw.String(),
			Decimals: t.Decimals,
			Symbol:   t.Symbol,
			Name:     t.Name,
			LogoURL:  t.LogoURL,
		}
	}
	return out
}

func fromCachedTokens(cached []cachedToken) ([]entity.TokenBalance, error) {
	out := make([]entity.TokenBalance, len(cached))
	for i, c := range cached {
		raw, err := entity.ParseRaw(c.Raw)
		if err != nil {
			return nil, err
		}
		out[i] = entity.TokenBalance{
			Address:  c.Address,
			Raw:      raw,
			Decimals: c.Decimals,
			Symbol:   c.Symbol,
			Name:     c.Name,
			LogoURL:  c.LogoURL,
		}
	}
	return out, nil
}
