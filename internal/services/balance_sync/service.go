// Package balance_sync is the orchestration facade of the balance engine.
//
// One sync fetches the native balance and token holdings through the fan-out
// fetcher, resolves token metadata, prices everything through the batcher,
// reconciles the snapshot into the store and values the reconciled rows.
// Failures of individual ledgers, batches or lookups degrade the result and
// are counted in AggregateResult.ErrorCount; only an unsupported chain, a
// malformed address or an unknown wallet id are returned as errors.
package balance_sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/inbound"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/services/balance_fetcher"
	"github.com/archon-research/stl/stl-balances/internal/services/price_enrichment"
	"github.com/archon-research/stl/stl-balances/internal/services/reconciler"
	"github.com/archon-research/stl/stl-balances/internal/services/shared"
)

const tracerName = "github.com/archon-research/stl/stl-balances/internal/services/balance_sync"

var _ inbound.BalanceSyncService = (*Service)(nil)

// Config holds configuration for the sync facade.
type Config struct {
	// MetadataTTL is how long token metadata is trusted. Defaults to 7 days.
	MetadataTTL time.Duration

	// MetadataConcurrency bounds parallel metadata lookups per sync.
	MetadataConcurrency int

	// SyncAllConcurrency bounds parallel wallet syncs in SyncAll.
	SyncAllConcurrency int

	Logger *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		MetadataTTL:         shared.MetadataTTL,
		MetadataConcurrency: 5,
		SyncAllConcurrency:  4,
	}
}

// Dependencies are the collaborators of the facade. Events and Archive are optional.
type Dependencies struct {
	Registry   outbound.AdapterRegistry
	Wallets    outbound.WalletRepository
	Tokens     outbound.TokenRepository
	Fetcher    *balance_fetcher.Service
	Prices     *price_enrichment.Service
	Reconciler *reconciler.Service
	Cache      *shared.JSONCache
	Metrics    outbound.SyncMetrics
	Events     outbound.EventSink
	Archive    outbound.SnapshotArchive
}

// Service implements inbound.BalanceSyncService.
type Service struct {
	deps                Dependencies
	metadataTTL         time.Duration
	metadataConcurrency int
	syncAllConcurrency  int
	logger              *slog.Logger
	now                 func() time.Time
}

// NewService creates the sync facade.
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	switch {
	case deps.Registry == nil:
		return nil, fmt.Errorf("adapter registry cannot be nil")
	case deps.Wallets == nil:
		return nil, fmt.Errorf("wallet repository cannot be nil")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token repository cannot be nil")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("balance fetcher cannot be nil")
	case deps.Prices == nil:
		return nil, fmt.Errorf("price enrichment cannot be nil")
	case deps.Reconciler == nil:
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = outbound.NopSyncMetrics{}
	}

	defaults := ConfigDefaults()
	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = defaults.MetadataTTL
	}
	if cfg.MetadataConcurrency <= 0 {
		cfg.MetadataConcurrency = defaults.MetadataConcurrency
	}
	if cfg.SyncAllConcurrency <= 0 {
		cfg.SyncAllConcurrency = defaults.SyncAllConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		deps:                deps,
		metadataTTL:         cfg.MetadataTTL,
		metadataConcurrency: cfg.MetadataConcurrency,
		syncAllConcurrency:  cfg.SyncAllConcurrency,
		logger:              logger.With("component", "balance-sync"),
		now:                 func() time.Time { return time.Now().UTC() },
	}, nil
}

// SyncWalletByID loads a wallet and syncs it.
func (s *Service) SyncWalletByID(ctx context.Context, walletID uuid.UUID, opts inbound.SyncOptions) (*entity.AggregateResult, error) {
	wallet, err := s.deps.Wallets.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("loading wallet %s: %w", walletID, err)
	}
	return s.SyncWalletBalances(ctx, wallet, opts)
}

// syncState carries the intermediate results of one sync.
type syncState struct {
	wallet  *entity.Wallet
	adapter outbound.ChainAdapter
	chain   entity.Chain
	address string
	force   bool
	result  *entity.AggregateResult

	native    *balance_fetcher.NativeResult
	tokens    *balance_fetcher.TokenResult
	stored    map[string]*entity.Token
	metadata  map[string]entity.TokenMetadata
	upserts   []*entity.Token
	prices    map[string]entity.Price
	nativeUSD entity.Price
}

// SyncWalletBalances refreshes one wallet and returns its valued holdings.
func (s *Service) SyncWalletBalances(ctx context.Context, wallet *entity.Wallet, opts inbound.SyncOptions) (*entity.AggregateResult, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet cannot be nil")
	}
	start := time.Now()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "balance_sync.SyncWalletBalances",
		trace.WithAttributes(
			attribute.String("wallet.id", wallet.ID.String()),
			attribute.String("chain", wallet.ChainCode),
			attribute.Bool("force", opts.ForceRefresh),
		),
	)
	defer span.End()

	adapter, err := s.deps.Registry.Adapter(wallet.ChainCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unsupported chain")
		return nil, err
	}
	if err := adapter.ValidateAddress(wallet.Address); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid address")
		return nil, err
	}

	chain := adapter.Chain()
	st := &syncState{
		wallet:  wallet,
		adapter: adapter,
		chain:   chain,
		address: adapter.CanonicalAddress(wallet.Address),
		force:   opts.ForceRefresh,
		result: &entity.AggregateResult{
			WalletID:     wallet.ID,
			ChainCode:    chain.Code,
			Address:      wallet.Address,
			NativeSymbol: chain.NativeSymbol,
		},
	}

	if err := s.fetchBalances(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid input")
		return nil, err
	}
	s.resolveMetadata(ctx, st)
	s.enrichPrices(ctx, st)
	rows := s.reconcile(ctx, st)
	s.value(st, rows)
	s.persistPrices(ctx, st)

	res := st.result
	res.SyncedAt = s.now()
	s.deps.Metrics.RecordSync(ctx, chain.Code, time.Since(start), res.ErrorCount)
	s.publish(ctx, res)
	s.archive(ctx, res)

	span.SetAttributes(
		attribute.Int("holdings", len(res.Holdings)),
		attribute.Int("errors", res.ErrorCount),
		attribute.String("total_value_usd", res.TotalValueUSD.String()),
	)
	if res.Degraded() {
		s.logger.Warn("wallet synced with errors",
			"wallet", wallet.ID,
			"chain", chain.Code,
			"errors", res.ErrorCount,
			"duration", time.Since(start),
		)
	} else {
		s.logger.Info("wallet synced",
			"wallet", wallet.ID,
			"chain", chain.Code,
			"holdings", len(res.Holdings),
			"totalValueUsd", res.TotalValueUSD.StringFixed(2),
			"duration", time.Since(start),
		)
	}
	return res, nil
}

// fetchBalances runs native and token discovery concurrently. Only input
// errors are returned; everything else degrades the result.
func (s *Service) fetchBalances(ctx context.Context, st *syncState) error {
	fopts := balance_fetcher.FetchOptions{Force: st.force}
	var nativeErr, tokenErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.native, nativeErr = s.deps.Fetcher.FetchNative(gctx, st.adapter, st.address, fopts)
		if entity.IsInputError(nativeErr) {
			return nativeErr
		}
		return nil
	})
	g.Go(func() error {
		st.tokens, tokenErr = s.deps.Fetcher.FetchTokens(gctx, st.adapter, st.address, fopts)
		if entity.IsInputError(tokenErr) {
			return tokenErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	res := st.result
	switch {
	case nativeErr != nil:
		st.native = nil
		res.AddError(fmt.Errorf("native balance: %w", nativeErr))
	case st.native.Degraded():
		if st.native.AnchorErr != nil {
			res.AddError(fmt.Errorf("anchor ledger %d probe: %w: %w", entity.AnchorLedger, entity.ErrPartialData, st.native.AnchorErr))
		}
		for _, l := range st.native.FailedLedgers {
			res.AddError(fmt.Errorf("ledger %d native balance: %w", l, entity.ErrPartialData))
		}
	}
	switch {
	case tokenErr != nil:
		st.tokens = nil
		res.AddError(fmt.Errorf("token balances: %w", tokenErr))
	case !st.tokens.Complete():
		res.AddError(fmt.Errorf("token balances: %d units failed: %w", st.tokens.FailedUnits, entity.ErrPartialData))
	}
	return nil
}

// resolveMetadata decides the metadata of every held token, refreshing
// missing or stale entries through the adapter.
func (s *Service) resolveMetadata(ctx context.Context, st *syncState) {
	chain := st.chain
	now := s.now()

	addrs := []string{entity.NativeAddress}
	var held []entity.TokenBalance
	if st.tokens != nil {
		held = st.tokens.Tokens
		for _, t := range held {
			addrs = append(addrs, st.adapter.CanonicalAddress(t.Address))
		}
	}

	stored, err := s.deps.Tokens.GetTokens(ctx, chain.Code, addrs)
	if err != nil {
		st.result.AddError(fmt.Errorf("loading stored tokens: %w", err))
		stored = map[string]*entity.Token{}
	}
	st.stored = stored
	st.metadata = make(map[string]entity.TokenMetadata, len(addrs))

	if _, ok := stored[entity.NativeAddress]; !ok {
		t := nativeToken(chain)
		t.MetadataUpdatedAt = &now
		st.upserts = append(st.upserts, t)
	}

	type lookup struct {
		addr string
		meta entity.TokenMetadata
		err  error
	}
	var pending []*lookup

	for _, t := range held {
		addr := st.adapter.CanonicalAddress(t.Address)
		reported := entity.TokenMetadata{Address: addr, Symbol: t.Symbol, Name: t.Name, Decimals: t.Decimals, LogoURL: t.LogoURL}
		existing := stored[addr]

		switch {
		case reported.Known() && reported.Symbol != "":
			st.metadata[addr] = reported
			if existing == nil || existing.MetadataStale(now, s.metadataTTL) || st.force {
				st.upserts = append(st.upserts, tokenFromMetadata(chain.Code, reported, now))
			}
		case existing != nil && !existing.MetadataStale(now, s.metadataTTL) && !st.force:
			st.metadata[addr] = metadataFromToken(existing)
		default:
			pending = append(pending, &lookup{addr: addr, meta: reported})
		}
	}

	if len(pending) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.metadataConcurrency)
		for _, l := range pending {
			g.Go(func() error {
				l.meta, l.err = s.fetchMetadata(gctx, st.adapter, l.addr, st.force)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, l := range pending {
		if l.err != nil {
			st.result.AddError(fmt.Errorf("metadata for %s: %w", l.addr, l.err))
			switch existing := stored[l.addr]; {
			case existing != nil:
				st.metadata[l.addr] = metadataFromToken(existing)
			case l.meta.Known():
				st.metadata[l.addr] = l.meta
			default:
				st.metadata[l.addr] = entity.UnknownMetadata(l.addr)
				st.upserts = append(st.upserts, tokenFromMetadata(chain.Code, entity.UnknownMetadata(l.addr), time.Time{}))
			}
			continue
		}
		st.metadata[l.addr] = l.meta
		st.upserts = append(st.upserts, tokenFromMetadata(chain.Code, l.meta, now))
	}
}

// fetchMetadata is the cached metadata lookup; unknown metadata is not cached.
func (s *Service) fetchMetadata(ctx context.Context, adapter outbound.ChainAdapter, addr string, force bool) (entity.TokenMetadata, error) {
	key := shared.MetadataCacheKey(adapter.Chain().Code, addr)
	meta, _, err := shared.Fetch(ctx, s.deps.Cache, shared.ConcernMetadata, key, s.metadataTTL, force,
		func(ctx context.Context) (entity.TokenMetadata, bool, error) {
			m, err := adapter.FetchTokenMetadata(ctx, addr)
			if err != nil {
				return entity.TokenMetadata{}, false, err
			}
			if m == nil {
				return entity.UnknownMetadata(addr), false, nil
			}
			out := *m
			out.Address = addr
			return out, out.Known(), nil
		})
	return meta, err
}

func (s *Service) enrichPrices(ctx context.Context, st *syncState) {
	var addrs []string
	symbols := make(map[string]string)
	for addr, m := range st.metadata {
		addrs = append(addrs, addr)
		symbols[addr] = m.Symbol
	}

	pr := s.deps.Prices.EnrichTokenPrices(ctx, st.chain, addrs, price_enrichment.EnrichOptions{
		Force:   st.force,
		Symbols: symbols,
	})
	st.prices = pr.Prices
	if pr.FailedBatches > 0 {
		st.result.AddError(fmt.Errorf("%d of %d price batches failed: %w", pr.FailedBatches, pr.Batches, entity.ErrPartialData))
	}

	np, err := s.deps.Prices.NativePrice(ctx, st.chain, st.force)
	if err != nil {
		st.result.AddError(err)
		if t := st.stored[entity.NativeAddress]; t != nil && !st.force {
			np = entity.Price{USD: t.PriceUSD, Change24h: t.Change24h}
		}
	}
	st.nativeUSD = np
}

// reconcile persists the snapshot. When the store is unavailable the
// snapshot itself is valued so the caller still gets an answer.
func (s *Service) reconcile(ctx context.Context, st *syncState) []*entity.WalletBalance {
	snap := &entity.Snapshot{
		WalletID:       st.wallet.ID,
		ChainCode:      st.chain.Code,
		NativeObserved: st.native != nil,
		TokensComplete: st.tokens != nil && st.tokens.Complete(),
		TakenAt:        s.now(),
	}
	if st.native != nil {
		snap.Native = &entity.SnapshotEntry{
			TokenAddress: entity.NativeAddress,
			Raw:          st.native.Raw,
			Metadata:     nativeMetadata(st.chain),
		}
	}
	if st.tokens != nil {
		for _, t := range st.tokens.Tokens {
			addr := st.adapter.CanonicalAddress(t.Address)
			snap.Tokens = append(snap.Tokens, entity.SnapshotEntry{
				TokenAddress: addr,
				Raw:          t.Raw,
				Metadata:     st.metadata[addr],
			})
		}
	}

	res, err := s.deps.Reconciler.Reconcile(ctx, reconciler.Input{
		Wallet:    st.wallet,
		Snapshot:  snap,
		Tokens:    st.upserts,
		Canonical: st.adapter.CanonicalAddress,
	})
	if err == nil {
		return res.Rows
	}

	st.result.AddError(err)
	rows := make([]*entity.WalletBalance, 0, len(snap.Entries()))
	for _, e := range snap.Entries() {
		raw := e.Raw
		if raw == nil {
			raw = new(big.Int)
		}
		rows = append(rows, &entity.WalletBalance{
			WalletID:     st.wallet.ID,
			TokenAddress: e.TokenAddress,
			RawBalance:   raw.String(),
			Balance:      entity.FormatUnits(raw, e.Metadata.Decimals),
			IsVisible:    true,
			LastSyncedAt: snap.TakenAt,
		})
	}
	return rows
}

// value turns reconciled rows into holdings and totals.
func (s *Service) value(st *syncState, rows []*entity.WalletBalance) {
	res := st.result
	res.NativePrice = st.nativeUSD

	for _, row := range rows {
		h := entity.Holding{
			TokenAddress: row.TokenAddress,
			RawBalance:   row.RawBalance,
			Balance:      row.Balance,
			IsNative:     row.IsNative(),
			IsVisible:    row.IsVisible,
		}

		var meta entity.TokenMetadata
		var price entity.Price
		if h.IsNative {
			meta = nativeMetadata(st.chain)
			price = st.nativeUSD
			res.NativeBalance = row.Balance
		} else {
			var ok bool
			if meta, ok = st.metadata[row.TokenAddress]; !ok {
				if t := st.stored[row.TokenAddress]; t != nil {
					meta = metadataFromToken(t)
				} else {
					meta = entity.UnknownMetadata(row.TokenAddress)
				}
			}
			if price, ok = st.prices[row.TokenAddress]; !ok {
				if t := st.stored[row.TokenAddress]; t != nil {
					price = entity.Price{USD: t.PriceUSD, Change24h: t.Change24h}
				}
			}
		}

		h.Symbol = meta.Symbol
		h.Name = meta.Name
		h.Decimals = meta.Decimals
		h.PriceUSD = price.USD
		h.Change24h = price.Change24h
		entity.ValueHolding(&h)
		res.Holdings = append(res.Holdings, h)
	}

	res.TotalValueUSD, res.TotalChange24hUSD = entity.Totals(res.Holdings)
}

// persistPrices stores nonzero quotes on the token rows. Zero quotes are
// skipped because a failed batch also reports zero.
func (s *Service) persistPrices(ctx context.Context, st *syncState) {
	quotes := make(map[string]entity.Price, len(st.prices)+1)
	for addr, p := range st.prices {
		if !p.IsZero() {
			quotes[addr] = p
		}
	}
	if !st.nativeUSD.IsZero() {
		quotes[entity.NativeAddress] = st.nativeUSD
	}
	if len(quotes) == 0 {
		return
	}
	if err := s.deps.Tokens.UpdatePrices(ctx, st.chain.Code, quotes); err != nil {
		s.logger.Warn("storing prices failed", "chain", st.chain.Code, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, res *entity.AggregateResult) {
	if s.deps.Events == nil {
		return
	}
	event := outbound.BalancesSyncedEvent{
		WalletID:          res.WalletID.String(),
		ChainCode:         res.ChainCode,
		Address:           res.Address,
		TotalValueUSD:     res.TotalValueUSD,
		TotalChange24hUSD: res.TotalChange24hUSD,
		Holdings:          len(res.Holdings),
		ErrorCount:        res.ErrorCount,
		SyncedAt:          res.SyncedAt,
	}
	if err := s.deps.Events.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing sync event failed", "wallet", res.WalletID, "error", err)
	}
}

func (s *Service) archive(ctx context.Context, res *entity.AggregateResult) {
	if s.deps.Archive == nil {
		return
	}
	if err := s.deps.Archive.Archive(ctx, res); err != nil {
		s.logger.Warn("archiving sync result failed", "wallet", res.WalletID, "error", err)
	}
}

// SyncAllStats summarises a SyncAll pass.
type SyncAllStats struct {
	Wallets  int
	Degraded int
	Failed   int
}

// SyncAll syncs every wallet on the registered active chains with bounded
// concurrency. Per-wallet failures are logged and counted.
func (s *Service) SyncAll(ctx context.Context, opts inbound.SyncOptions) (SyncAllStats, error) {
	var chainCodes []string
	for _, c := range s.deps.Registry.Chains() {
		if c.IsActive {
			chainCodes = append(chainCodes, c.Code)
		}
	}
	if len(chainCodes) == 0 {
		return SyncAllStats{}, nil
	}

	wallets, err := s.deps.Wallets.ListWallets(ctx, chainCodes)
	if err != nil {
		return SyncAllStats{}, fmt.Errorf("listing wallets: %w", err)
	}

	outcomes := make([]*entity.AggregateResult, len(wallets))
	errs := make([]error, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.syncAllConcurrency)
	for i, w := range wallets {
		g.Go(func() error {
			outcomes[i], errs[i] = s.SyncWalletBalances(gctx, w, opts)
			return nil
		})
	}
	_ = g.Wait()

	stats := SyncAllStats{Wallets: len(wallets)}
	for i, err := range errs {
		switch {
		case err != nil:
			stats.Failed++
			s.logger.Error("wallet sync failed", "wallet", wallets[i].ID, "chain", wallets[i].ChainCode, "error", err)
		case outcomes[i].Degraded():
			stats.Degraded++
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// RefreshPrices re-quotes every known token on the active chains, bypassing
// the cache, and stores the results.
func (s *Service) RefreshPrices(ctx context.Context) error {
	var errs []error
	for _, chain := range s.deps.Registry.Chains() {
		if !chain.IsActive {
			continue
		}
		tokens, err := s.deps.Tokens.ListTokens(ctx, chain.Code)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing tokens on %s: %w", chain.Code, err))
			continue
		}

		addrs := make([]string, 0, len(tokens))
		symbols := make(map[string]string, len(tokens))
		for _, t := range tokens {
			if t.IsNative() {
				continue
			}
			addrs = append(addrs, t.Address)
			symbols[t.Address] = t.Symbol
		}

		quotes := make(map[string]entity.Price)
		pr := s.deps.Prices.EnrichTokenPrices(ctx, chain, addrs, price_enrichment.EnrichOptions{Force: true, Symbols: symbols})
		for addr, p := range pr.Prices {
			if !p.IsZero() {
				quotes[addr] = p
			}
		}
		if np, err := s.deps.Prices.NativePrice(ctx, chain, true); err != nil {
			errs = append(errs, err)
		} else if !np.IsZero() {
			quotes[entity.NativeAddress] = np
		}

		if len(quotes) > 0 {
			if err := s.deps.Tokens.UpdatePrices(ctx, chain.Code, quotes); err != nil {
				errs = append(errs, fmt.Errorf("storing prices on %s: %w", chain.Code, err))
			}
		}
		s.logger.Info("prices refreshed",
			"chain", chain.Code,
			"tokens", len(addrs),
			"priced", len(quotes),
			"failedBatches", pr.FailedBatches,
			"unpriced", pr.Unpriced,
		)
	}
	return errors.Join(errs...)
}

// InvalidateBalances drops the cached balances of every tracked wallet so the
// next sync reads the chain.
func (s *Service) InvalidateBalances(ctx context.Context) (int, error) {
	var chainCodes []string
	for _, c := range s.deps.Registry.Chains() {
		chainCodes = append(chainCodes, c.Code)
	}
	wallets, err := s.deps.Wallets.ListWallets(ctx, chainCodes)
	if err != nil {
		return 0, fmt.Errorf("listing wallets: %w", err)
	}
	for _, w := range wallets {
		addr := w.Address
		if a, err := s.deps.Registry.Adapter(w.ChainCode); err == nil {
			addr = a.CanonicalAddress(addr)
		}
		s.deps.Fetcher.InvalidateWallet(ctx, w.ChainCode, addr)
	}
	return len(wallets), nil
}

func nativeMetadata(chain entity.Chain) entity.TokenMetadata {
	return entity.TokenMetadata{
		Address:  entity.NativeAddress,
		Symbol:   chain.NativeSymbol,
		Name:     chain.NativeName,
		Decimals: chain.NativeDecimals,
	}
}

func nativeToken(chain entity.Chain) *entity.Token {
	return tokenFromMetadata(chain.Code, nativeMetadata(chain), time.Time{})
}

// tokenFromMetadata builds a token row. A zero refreshedAt leaves
// MetadataUpdatedAt unset so the next sync retries the lookup.
func tokenFromMetadata(chainCode string, m entity.TokenMetadata, refreshedAt time.Time) *entity.Token {
	t := &entity.Token{
		ChainCode:      chainCode,
		Address:        m.Address,
		Symbol:         m.Symbol,
		Name:           m.Name,
		Decimals:       m.Decimals,
		LogoURL:        m.LogoURL,
		TotalSupplyRaw: m.TotalSupplyRaw,
	}
	if !refreshedAt.IsZero() {
		t.MetadataUpdatedAt = &refreshedAt
	}
	return t
}

func metadataFromToken(t *entity.Token) entity.TokenMetadata {
	return entity.TokenMetadata{
		Address:        t.Address,
		Symbol:         t.Symbol,
		Name:           t.Name,
		Decimals:       t.Decimals,
		LogoURL:        t.LogoURL,
		TotalSupplyRaw: t.TotalSupplyRaw,
	}
}
