// Package application assembles the balance sync engine from configuration:
// chain registry, adapters, persistence, caches, price providers and the
// optional AWS sinks.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/coingecko"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/cryptocompare"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/etherscan"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/evm"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/kadena"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/memory"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/moralis"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/redis"
	s3adapter "github.com/archon-research/stl/stl-balances/internal/adapters/outbound/s3"
	snsadapter "github.com/archon-research/stl/stl-balances/internal/adapters/outbound/sns"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-balances/internal/application/chains"
	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/env"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/services/balance_fetcher"
	"github.com/archon-research/stl/stl-balances/internal/services/balance_sync"
	"github.com/archon-research/stl/stl-balances/internal/services/price_enrichment"
	"github.com/archon-research/stl/stl-balances/internal/services/reconciler"
	"github.com/archon-research/stl/stl-balances/internal/services/shared"
)

// Price backends for token quotes.
const (
	PriceBackendMoralis   = "moralis"
	PriceBackendCoinGecko = "coingecko"
)

// Config holds the engine's runtime configuration.
type Config struct {
	DatabaseURL string
	ChainsFile  string

	// RedisAddr selects the shared cache. Empty uses an in-process cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PriceBackend        string
	MoralisAPIKey       string
	CoinGeckoAPIKey     string
	CryptoCompareAPIKey string

	// EtherscanAPIKey enables Etherscan token discovery when Moralis is not configured.
	EtherscanAPIKey string

	ZeroConfirmations int
	SolanaIncludeNFTs bool

	// RPCTimeout bounds each chain backend call.
	RPCTimeout time.Duration

	// EventsTopicARN enables balances_synced events when set.
	EventsTopicARN string

	// ArchiveBucket enables the snapshot archive when set.
	ArchiveBucket string
	ArchivePrefix string

	AWSRegion   string
	AWSEndpoint string

	Logger *slog.Logger
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() Config {
	return Config{
		DatabaseURL:         env.Get("DATABASE_URL", ""),
		ChainsFile:          env.Get("CHAINS_FILE", ""),
		RedisAddr:           env.Get("REDIS_ADDR", ""),
		RedisPassword:       env.Get("REDIS_PASSWORD", ""),
		RedisDB:             env.GetInt("REDIS_DB", 0),
		PriceBackend:        env.Get("PRICE_BACKEND", PriceBackendMoralis),
		MoralisAPIKey:       env.Get("MORALIS_API_KEY", ""),
		CoinGeckoAPIKey:     env.Get("COINGECKO_API_KEY", ""),
		CryptoCompareAPIKey: env.Get("CRYPTOCOMPARE_API_KEY", ""),
		EtherscanAPIKey:     env.Get("ETHERSCAN_API_KEY", ""),
		ZeroConfirmations:   env.GetInt("ZERO_CONFIRMATIONS", 0),
		SolanaIncludeNFTs:   env.GetBool("SOLANA_INCLUDE_NFTS", false),
		RPCTimeout:          env.GetDuration("RPC_TIMEOUT", DefaultRequestTimeout),
		EventsTopicARN:      env.Get("AWS_SNS_TOPIC_ARN", ""),
		ArchiveBucket:       env.Get("SNAPSHOT_BUCKET", ""),
		ArchivePrefix:       env.Get("SNAPSHOT_PREFIX", ""),
		AWSRegion:           env.Get("AWS_REGION", "eu-west-1"),
		AWSEndpoint:         env.Get("AWS_ENDPOINT_URL", ""),
	}
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	switch strings.ToLower(c.PriceBackend) {
	case PriceBackendMoralis:
		if c.MoralisAPIKey == "" {
			return errors.New("MORALIS_API_KEY is required for the moralis price backend")
		}
	case PriceBackendCoinGecko:
		if c.CoinGeckoAPIKey == "" {
			return errors.New("COINGECKO_API_KEY is required for the coingecko price backend")
		}
	default:
		return fmt.Errorf("unknown price backend %q (supported: moralis, coingecko)", c.PriceBackend)
	}
	if c.RPCTimeout < 0 {
		return fmt.Errorf("RPC_TIMEOUT must not be negative, got %s", c.RPCTimeout)
	}
	if c.ZeroConfirmations < 0 {
		return fmt.Errorf("ZERO_CONFIRMATIONS must be >= 0, got %d", c.ZeroConfirmations)
	}
	return nil
}

// tokenIndexer picks the EVM token discovery backend. Moralis wins over
// Etherscan; with neither, EVM chains read their tracked tokens only.
func tokenIndexer(cfg Config, mor *moralis.Client) (evm.TokenIndexer, error) {
	if mor != nil {
		return mor, nil
	}
	if cfg.EtherscanAPIKey == "" {
		return nil, nil
	}
	es, err := etherscan.NewClient(etherscan.ClientConfig{APIKey: cfg.EtherscanAPIKey, Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("creating etherscan client: %w", err)
	}
	return es, nil
}

// priceProviders picks the token quote backend for each chain family and the
// native quote backend. EVM tokens follow PRICE_BACKEND. SPL mints go to the
// Moralis Solana gateway, or CoinGecko without a Moralis key. Kadena modules
// are quoted by symbol on CryptoCompare. Native quotes prefer CryptoCompare
// and fall back to CoinGecko.
func priceProviders(cfg Config, mor *moralis.Client, entries []chains.Entry) (price_enrichment.Providers, outbound.NativePriceProvider, error) {
	var cg *coingecko.Client
	if cfg.CoinGeckoAPIKey != "" {
		c, err := coingecko.NewClient(coingecko.ClientConfig{APIKey: cfg.CoinGeckoAPIKey, Logger: cfg.Logger})
		if err != nil {
			return nil, nil, fmt.Errorf("creating coingecko client: %w", err)
		}
		cg = c
	}
	cc := cryptocompare.NewClient(cryptocompare.ClientConfig{
		APIKey: cfg.CryptoCompareAPIKey,
		Logger: cfg.Logger,
	})

	providers := price_enrichment.Providers{}
	switch strings.ToLower(cfg.PriceBackend) {
	case PriceBackendMoralis:
		if mor == nil {
			return nil, nil, errors.New("moralis price backend needs a moralis client")
		}
		providers[entity.FamilyEVM] = mor
	case PriceBackendCoinGecko:
		if cg == nil {
			return nil, nil, errors.New("coingecko price backend needs COINGECKO_API_KEY")
		}
		providers[entity.FamilyEVM] = cg
	default:
		return nil, nil, fmt.Errorf("unknown price backend %q", cfg.PriceBackend)
	}

	switch {
	case mor != nil:
		providers[entity.FamilySolana] = mor.SolanaPrices()
	case cg != nil:
		providers[entity.FamilySolana] = cg
	}
	providers[entity.FamilyKadena] = cc.TokenPrices(moduleSymbols(entries))

	if cfg.CryptoCompareAPIKey != "" || cg == nil {
		return providers, cc, nil
	}
	return providers, cg, nil
}

// moduleSymbols maps chain code to module name to ticker for every Kadena
// token module in the registry.
func moduleSymbols(entries []chains.Entry) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, e := range entries {
		if e.Chain.Family != entity.FamilyKadena {
			continue
		}
		for _, m := range e.TokenModules {
			if m.Symbol == "" {
				continue
			}
			if out[e.Chain.Code] == nil {
				out[e.Chain.Code] = make(map[string]string)
			}
			out[e.Chain.Code][m.Address] = m.Symbol
		}
	}
	return out
}

// App is the assembled engine.
type App struct {
	Sync     *balance_sync.Service
	Wallets  outbound.WalletRepository
	Registry *Registry
	Archive  *s3adapter.Archive
	Pool     *pgxpool.Pool

	closers []func()
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Build wires the engine. The caller must Close the returned App.
func Build(ctx context.Context, cfg Config) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger

	app := &App{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	entries, err := chains.Load(cfg.ChainsFile)
	if err != nil {
		return nil, err
	}

	appMetrics, err := shared.NewAppTelemetry()
	if err != nil {
		return nil, fmt.Errorf("creating telemetry: %w", err)
	}
	adapterMetrics, err := telemetry.NewAdapterMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating adapter telemetry: %w", err)
	}

	// Persistence
	pool, err := postgres.OpenPool(ctx, postgres.PoolConfigFromURL(cfg.DatabaseURL), logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	app.Pool = pool
	app.closers = append(app.closers, pool.Close)

	wallets, err := postgres.NewWalletRepository(pool, logger)
	if err != nil {
		return nil, err
	}
	balances, err := postgres.NewBalanceRepository(pool, logger)
	if err != nil {
		return nil, err
	}
	tokens, err := postgres.NewTokenRepository(pool, logger, 0)
	if err != nil {
		return nil, err
	}
	txm, err := postgres.NewTxManager(pool, logger)
	if err != nil {
		return nil, err
	}
	app.Wallets = wallets

	// Cache
	var cache outbound.Cache
	if cfg.RedisAddr != "" {
		rc, err := redis.NewCache(redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		app.closers = append(app.closers, func() { _ = rc.Close() })
		cache = rc
	} else {
		mc := memory.NewCache(time.Minute)
		app.closers = append(app.closers, func() { _ = mc.Close() })
		cache = mc
	}
	jsonCache := shared.NewJSONCache(cache, appMetrics, logger)

	// Backends
	var mor *moralis.Client
	if cfg.MoralisAPIKey != "" {
		mor, err = moralis.NewClient(moralis.ClientConfig{APIKey: cfg.MoralisAPIKey, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("creating moralis client: %w", err)
		}
	}

	regCfg := RegistryConfig{
		Entries:           entries,
		Kadena:            kadena.Config{Logger: logger},
		SolanaIncludeNFTs: cfg.SolanaIncludeNFTs,
		RequestTimeout:    cfg.RPCTimeout,
		Metrics:           adapterMetrics,
		Logger:            logger,
	}
	if regCfg.Indexer, err = tokenIndexer(cfg, mor); err != nil {
		return nil, err
	}
	if mor != nil {
		regCfg.SolanaMetadata = mor
	}
	registry, err := NewRegistry(ctx, regCfg)
	if err != nil {
		return nil, err
	}
	app.Registry = registry
	app.closers = append(app.closers, registry.Close)

	tokenPrices, nativePrices, err := priceProviders(cfg, mor, entries)
	if err != nil {
		return nil, err
	}

	// Services
	prices, err := price_enrichment.NewService(price_enrichment.Config{Logger: logger}, tokenPrices, nativePrices, jsonCache, appMetrics)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, prices.Close)

	rec, err := reconciler.NewService(reconciler.Config{
		ZeroConfirmations: cfg.ZeroConfirmations,
		Logger:            logger,
	}, txm, balances, tokens)
	if err != nil {
		return nil, err
	}

	deps := balance_sync.Dependencies{
		Registry:   registry,
		Wallets:    wallets,
		Tokens:     tokens,
		Fetcher:    balance_fetcher.NewService(balance_fetcher.Config{Logger: logger}, jsonCache, appMetrics),
		Prices:     prices,
		Reconciler: rec,
		Cache:      jsonCache,
		Metrics:    appMetrics,
	}

	// Optional AWS sinks
	if cfg.EventsTopicARN != "" || cfg.ArchiveBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}

		if cfg.EventsTopicARN != "" {
			client := awssns.NewFromConfig(awsCfg, func(o *awssns.Options) {
				if cfg.AWSEndpoint != "" {
					o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
				}
			})
			sink, err := snsadapter.NewEventSink(client, snsadapter.Config{TopicARN: cfg.EventsTopicARN, Logger: logger})
			if err != nil {
				return nil, fmt.Errorf("creating event sink: %w", err)
			}
			app.closers = append(app.closers, func() { _ = sink.Close() })
			deps.Events = sink
		}

		if cfg.ArchiveBucket != "" {
			archive, err := s3adapter.NewArchive(awsCfg, s3adapter.Config{
				Bucket: cfg.ArchiveBucket,
				Prefix: cfg.ArchivePrefix,
				Logger: logger,
			}, func(o *awss3.Options) {
				if cfg.AWSEndpoint != "" {
					o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
					o.UsePathStyle = true
				}
			})
			if err != nil {
				return nil, fmt.Errorf("creating snapshot archive: %w", err)
			}
			app.Archive = archive
			deps.Archive = archive
		}
	}

	svc, err := balance_sync.NewService(balance_sync.Config{Logger: logger}, deps)
	if err != nil {
		return nil, err
	}
	app.Sync = svc

	logger.Info("balance sync engine ready",
		"chains", len(registry.Chains()),
		"priceFamilies", len(tokenPrices),
		"nativePrices", nativePrices.Name(),
		"events", deps.Events != nil,
		"archive", deps.Archive != nil)
	return app, nil
}
