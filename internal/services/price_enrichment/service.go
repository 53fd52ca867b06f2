// Package price_enrichment attaches USD quotes to token holdings.
//
// Contract tokens are routed to a price provider by chain family, then priced
// in provider-sized batches that run concurrently on a worker pool, each with
// its own bounded retry. A batch that exhausts its retries prices every member
// at zero instead of failing the sync. A chain no provider quotes is left
// unpriced without counting a failure. Native assets go through a separate
// single-symbol lookup whose adapter owns its retries.
package price_enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alitto/pond/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/partition"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/services/shared"
)

const tracerName = "github.com/archon-research/stl/stl-balances/internal/services/price_enrichment"

// Config holds configuration for the price batcher.
type Config struct {
	// MaxAttempts per batch, first try included. Defaults to 3.
	MaxAttempts int

	// InitialBackoff and MaxBackoff bound the jittered exponential backoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// InterBatchDelay paces batch submissions. Defaults to 250ms.
	InterBatchDelay time.Duration

	// Concurrency is the worker pool size shared by all enrichment calls.
	Concurrency int

	// PriceTTL is how long quotes stay cached. Defaults to 15m.
	PriceTTL time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		MaxAttempts:     3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		InterBatchDelay: 250 * time.Millisecond,
		Concurrency:     4,
		PriceTTL:        shared.PriceTTL,
	}
}

// EnrichOptions tunes one enrichment call.
type EnrichOptions struct {
	Force bool

	// Symbols maps token address to symbol. A cached zero quote for a
	// well-known symbol is treated as a miss.
	Symbols map[string]string
}

// PriceResult is the merged address -> quote map plus batch accounting.
type PriceResult struct {
	Prices        map[string]entity.Price
	Batches       int
	FailedBatches int
	CacheHits     int

	// Unpriced counts addresses on a chain no provider quotes.
	Unpriced int
}

// Providers routes token price lookups by chain family.
type Providers map[entity.ChainFamily]outbound.TokenPriceProvider

// Service prices tokens through per-family TokenPriceProviders and a
// NativePriceProvider.
type Service struct {
	providers Providers
	native    outbound.NativePriceProvider
	cache     *shared.JSONCache
	metrics   outbound.SyncMetrics
	pool      pond.Pool

	retryConfig     retry.Config
	interBatchDelay time.Duration
	ttl             time.Duration
	logger          *slog.Logger
}

// NewService creates a price batcher. cache and metrics may be nil.
func NewService(cfg Config, providers Providers, native outbound.NativePriceProvider, cache *shared.JSONCache, metrics outbound.SyncMetrics) (*Service, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one token price provider is required")
	}
	for family, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("token price provider for %s cannot be nil", family)
		}
	}
	if native == nil {
		return nil, fmt.Errorf("native price provider cannot be nil")
	}

	defaults := ConfigDefaults()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.InterBatchDelay < 0 {
		cfg.InterBatchDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = defaults.PriceTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = outbound.NopSyncMetrics{}
	}

	return &Service{
		providers: providers,
		native:    native,
		cache:     cache,
		metrics:   metrics,
		pool:      pond.NewPool(cfg.Concurrency),
		retryConfig: retry.Config{
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  2.0,
			Jitter:         true,
		}.WithAttempts(cfg.MaxAttempts),
		interBatchDelay: cfg.InterBatchDelay,
		ttl:             cfg.PriceTTL,
		logger:          logger.With("component", "price-enrichment"),
	}, nil
}

// Close waits for in-flight batches and stops the worker pool.
func (s *Service) Close() {
	s.pool.StopAndWait()
}

// providerFor returns the provider that quotes chain, or nil.
func (s *Service) providerFor(chain entity.Chain) outbound.TokenPriceProvider {
	p, ok := s.providers[chain.Family]
	if !ok {
		return nil
	}
	if cs, ok := p.(outbound.ChainSupport); ok && !cs.Supports(chain) {
		return nil
	}
	return p
}

// EnrichTokenPrices quotes every non-native address. Every requested address
// is present in the result; unpriced ones carry a zero quote.
func (s *Service) EnrichTokenPrices(ctx context.Context, chain entity.Chain, addresses []string, opts EnrichOptions) *PriceResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "price_enrichment.EnrichTokenPrices",
		trace.WithAttributes(
			attribute.String("chain", chain.Code),
			attribute.Int("addresses", len(addresses)),
			attribute.Bool("force", opts.Force),
		),
	)
	defer span.End()

	result := &PriceResult{Prices: make(map[string]entity.Price)}
	wanted := uniqueNonNative(addresses)
	if len(wanted) == 0 {
		return result
	}

	provider := s.providerFor(chain)
	if provider == nil {
		for _, addr := range wanted {
			result.Prices[addr] = entity.Price{}
		}
		result.Unpriced = len(wanted)
		s.logger.Debug("no token price source for chain", "chain", chain.Code, "tokens", len(wanted))
		span.SetAttributes(attribute.Int("unpriced", result.Unpriced))
		return result
	}

	var misses []string
	for _, addr := range wanted {
		if !opts.Force {
			if p, ok := s.cachedPrice(ctx, chain, addr, opts.Symbols[addr]); ok {
				result.Prices[addr] = p
				result.CacheHits++
				continue
			}
		}
		misses = append(misses, addr)
	}

	batches := partition.Chunk(misses, provider.MaxBatchSize())
	outcomes := make([]batchOutcome, len(batches))
	result.Batches = len(batches)

	group := s.pool.NewGroup()
	for i, batch := range batches {
		group.Submit(func() {
			outcomes[i] = s.runBatch(ctx, provider, chain, i, batch)
		})
		if i < len(batches)-1 && s.interBatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.interBatchDelay):
			}
		}
	}
	if err := group.Wait(); err != nil {
		s.logger.Error("price batch panicked", "chain", chain.Code, "error", err)
	}

	for i, batch := range batches {
		o := outcomes[i]
		if !o.ok {
			result.FailedBatches++
		}
		for _, addr := range batch {
			result.Prices[addr] = o.prices[addr]
		}
	}

	span.SetAttributes(
		attribute.Int("batches", result.Batches),
		attribute.Int("failed_batches", result.FailedBatches),
		attribute.Int("cache_hits", result.CacheHits),
	)
	return result
}

type batchOutcome struct {
	prices map[string]entity.Price
	ok     bool
}

func (s *Service) runBatch(ctx context.Context, provider outbound.TokenPriceProvider, chain entity.Chain, index int, batch []string) batchOutcome {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("price batch failed, retrying",
			"provider", provider.Name(),
			"chain", chain.Code,
			"batch", index,
			"size", len(batch),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
	}

	quotes, err := retry.Do(ctx, s.retryConfig, nil, onRetry, func() (map[string]entity.Price, error) {
		return provider.GetTokenPrices(ctx, chain, batch)
	})
	if err != nil {
		s.metrics.RecordPriceBatch(ctx, provider.Name(), len(batch), false)
		s.logger.Warn("price batch exhausted, pricing members at zero",
			"provider", provider.Name(),
			"chain", chain.Code,
			"batch", index,
			"size", len(batch),
			"error", err,
		)
		return batchOutcome{prices: map[string]entity.Price{}}
	}

	s.metrics.RecordPriceBatch(ctx, provider.Name(), len(batch), true)
	prices := make(map[string]entity.Price, len(batch))
	for _, addr := range batch {
		p := sanitize(quotes[addr])
		prices[addr] = p
		s.cache.Set(ctx, shared.TokenPriceCacheKey(chain.Code, addr), p, s.ttl)
	}
	return batchOutcome{prices: prices, ok: true}
}

func (s *Service) cachedPrice(ctx context.Context, chain entity.Chain, addr, symbol string) (entity.Price, bool) {
	var p entity.Price
	if !s.cache.Get(ctx, shared.ConcernPrice, shared.TokenPriceCacheKey(chain.Code, addr), &p) {
		return entity.Price{}, false
	}
	if p.IsZero() && entity.IsMajorSymbol(symbol) {
		return entity.Price{}, false
	}
	return p, true
}

// NativePrice quotes the chain's native asset, cached per symbol. The native
// provider retries internally, so it is called once per miss.
func (s *Service) NativePrice(ctx context.Context, chain entity.Chain, force bool) (entity.Price, error) {
	key := shared.NativePriceCacheKey(chain.NativeSymbol)
	p, _, err := shared.Fetch(ctx, s.cache, shared.ConcernPrice, key, s.ttl, force,
		func(ctx context.Context) (entity.Price, bool, error) {
			p, err := s.native.GetNativePrice(ctx, chain)
			if err != nil {
				return entity.Price{}, false, fmt.Errorf("native price for %s via %s: %w", chain.NativeSymbol, s.native.Name(), err)
			}
			p = sanitize(p)
			return p, !p.IsZero(), nil
		})
	if err != nil {
		return entity.Price{}, err
	}
	return p, nil
}

// sanitize zeroes quotes that cannot be real.
func sanitize(p entity.Price) entity.Price {
	if p.USD.IsNegative() {
		return entity.Price{}
	}
	return p
}

func uniqueNonNative(addresses []string) []string {
	seen := make(map[string]bool, len(addresses))
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if entity.IsNativeAddress(a) || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
