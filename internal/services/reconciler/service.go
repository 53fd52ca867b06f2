// Package reconciler merges a freshly observed balance snapshot into the
// persisted rows of one wallet.
//
// A reconciliation runs four passes inside a single transaction holding the
// wallet's advisory lock: native sentinel dedupe, duplicate-row dedupe, upsert
// with the zero-regression guard, and prune. Concurrent syncs of the same
// wallet serialise on the lock; the later commit wins.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/stl/stl-balances/internal/services/reconciler"

// Config holds configuration for the reconciler.
type Config struct {
	// ZeroConfirmations is how many consecutive zero observations replace a
	// stored nonzero balance. 0 means a zero never overwrites a nonzero.
	ZeroConfirmations int

	// MaxTxAttempts bounds retries of the whole transaction on
	// serialization failures and deadlocks.
	MaxTxAttempts int

	Logger *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		ZeroConfirmations: 0,
		MaxTxAttempts:     3,
	}
}

// Input is one wallet's reconciliation request.
type Input struct {
	Wallet   *entity.Wallet
	Snapshot *entity.Snapshot

	// Tokens are metadata rows to upsert in the same transaction.
	Tokens []*entity.Token

	// Canonical maps a token address to its canonical spelling. Stored rows
	// whose canonical addresses collide are duplicates. Nil is the identity.
	Canonical func(string) string
}

// Stats counts what each pass did.
type Stats struct {
	SentinelsMerged   int
	DuplicatesRemoved int
	Upserted          int
	ZeroSuppressed    int
	ZeroAccepted      int
	Pruned            int
	TokensUpserted    int
}

// Result is the outcome of a committed reconciliation.
type Result struct {
	Stats Stats
	// Rows are the wallet's persisted rows after commit, in creation order.
	Rows []*entity.WalletBalance
}

// Service reconciles snapshots against a BalanceRepository.
type Service struct {
	txManager outbound.TxManager
	balances  outbound.BalanceRepository
	tokens    outbound.TokenRepository

	zeroConfirmations int
	txRetry           retry.Config
	logger            *slog.Logger
	now               func() time.Time
}

// NewService creates a reconciler.
func NewService(cfg Config, txManager outbound.TxManager, balances outbound.BalanceRepository, tokens outbound.TokenRepository) (*Service, error) {
	if txManager == nil {
		return nil, fmt.Errorf("txManager cannot be nil")
	}
	if balances == nil {
		return nil, fmt.Errorf("balance repository cannot be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token repository cannot be nil")
	}
	if cfg.ZeroConfirmations < 0 {
		return nil, fmt.Errorf("zero confirmations must be >= 0, got %d", cfg.ZeroConfirmations)
	}
	if cfg.MaxTxAttempts <= 0 {
		cfg.MaxTxAttempts = ConfigDefaults().MaxTxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		txManager:         txManager,
		balances:          balances,
		tokens:            tokens,
		zeroConfirmations: cfg.ZeroConfirmations,
		txRetry: retry.Config{
			InitialBackoff: 20 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			BackoffFactor:  2.0,
			Jitter:         true,
		}.WithAttempts(cfg.MaxTxAttempts),
		logger: logger.With("component", "reconciler"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Reconcile merges in.Snapshot into the wallet's persisted rows atomically.
func (s *Service) Reconcile(ctx context.Context, in Input) (*Result, error) {
	if in.Wallet == nil || in.Snapshot == nil {
		return nil, fmt.Errorf("wallet and snapshot are required")
	}
	canonical := in.Canonical
	if canonical == nil {
		canonical = func(a string) string { return a }
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "reconciler.Reconcile",
		trace.WithAttributes(
			attribute.String("wallet.id", in.Wallet.ID.String()),
			attribute.String("chain", in.Wallet.ChainCode),
			attribute.Int("snapshot.entries", len(in.Snapshot.Entries())),
			attribute.Bool("snapshot.tokens_complete", in.Snapshot.TokensComplete),
		),
	)
	defer span.End()

	onRetry := func(attempt int, err error, backoff time.Duration) {
		s.logger.Warn("reconcile transaction conflict, retrying",
			"wallet", in.Wallet.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
	}

	result, err := retry.Do(ctx, s.txRetry, isTxConflict, onRetry, func() (*Result, error) {
		var res *Result
		err := s.txManager.WithTransaction(ctx, func(tx pgx.Tx) error {
			var err error
			res, err = s.reconcileTx(ctx, tx, in, canonical)
			return err
		})
		return res, err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reconcile failed")
		return nil, fmt.Errorf("reconciling wallet %s: %w", in.Wallet.ID, err)
	}

	st := result.Stats
	span.SetAttributes(
		attribute.Int("upserted", st.Upserted),
		attribute.Int("pruned", st.Pruned),
		attribute.Int("zero_suppressed", st.ZeroSuppressed),
	)
	s.logger.Debug("wallet reconciled",
		"wallet", in.Wallet.ID,
		"chain", in.Wallet.ChainCode,
		"upserted", st.Upserted,
		"pruned", st.Pruned,
		"zeroSuppressed", st.ZeroSuppressed,
		"sentinelsMerged", st.SentinelsMerged,
		"duplicatesRemoved", st.DuplicatesRemoved,
	)
	return result, nil
}

func (s *Service) reconcileTx(ctx context.Context, tx pgx.Tx, in Input, canonical func(string) string) (*Result, error) {
	walletID := in.Wallet.ID
	res := &Result{}

	if err := s.balances.LockWalletWithTX(ctx, tx, walletID); err != nil {
		return nil, fmt.Errorf("locking wallet: %w", err)
	}

	rows, err := s.balances.ListBalancesWithTX(ctx, tx, walletID)
	if err != nil {
		return nil, fmt.Errorf("listing balances: %w", err)
	}

	rows, err = s.dedupeNative(ctx, tx, walletID, rows, &res.Stats)
	if err != nil {
		return nil, err
	}
	existing, err := s.dedupeTokens(ctx, tx, walletID, rows, canonical, &res.Stats)
	if err != nil {
		return nil, err
	}

	if len(in.Tokens) > 0 {
		if err := s.tokens.UpsertTokensWithTX(ctx, tx, in.Tokens); err != nil {
			return nil, fmt.Errorf("upserting tokens: %w", err)
		}
		res.Stats.TokensUpserted = len(in.Tokens)
	}

	takenAt := in.Snapshot.TakenAt
	if takenAt.IsZero() {
		takenAt = s.now()
	}
	seen := make(map[string]bool)
	for _, e := range in.Snapshot.Entries() {
		addr := entity.NativeAddress
		if !entity.IsNativeAddress(e.TokenAddress) {
			addr = canonical(e.TokenAddress)
		}
		if seen[addr] {
			continue
		}
		seen[addr] = true

		row := s.merge(walletID, addr, e, existing[addr], takenAt, &res.Stats)
		if err := s.balances.UpsertBalanceWithTX(ctx, tx, row); err != nil {
			return nil, fmt.Errorf("upserting balance %q: %w", addr, err)
		}
	}

	if in.Snapshot.TokensComplete {
		var stale []string
		for addr := range existing {
			if addr == entity.NativeAddress || seen[addr] {
				continue
			}
			stale = append(stale, existing[addr].TokenAddress)
		}
		if len(stale) > 0 {
			n, err := s.balances.DeleteBalancesWithTX(ctx, tx, walletID, stale)
			if err != nil {
				return nil, fmt.Errorf("pruning balances: %w", err)
			}
			res.Stats.Pruned = int(n)
		}
	}

	res.Rows, err = s.balances.ListBalancesWithTX(ctx, tx, walletID)
	if err != nil {
		return nil, fmt.Errorf("listing reconciled balances: %w", err)
	}
	return res, nil
}

// merge builds the row to write for one snapshot entry.
func (s *Service) merge(walletID uuid.UUID, addr string, e entity.SnapshotEntry, prev *entity.WalletBalance, takenAt time.Time, st *Stats) *entity.WalletBalance {
	raw := e.Raw
	if raw == nil || raw.Sign() < 0 {
		raw = new(big.Int)
	}

	row := &entity.WalletBalance{
		WalletID:     walletID,
		TokenAddress: addr,
		RawBalance:   raw.String(),
		Balance:      entity.FormatUnits(raw, e.Metadata.Decimals),
		IsVisible:    true,
		LastSyncedAt: takenAt,
	}
	if prev != nil {
		row.IsVisible = prev.IsVisible
		row.CreatedAt = prev.CreatedAt
	}

	if raw.Sign() == 0 && prev != nil && !prev.IsZero() {
		streak := prev.ZeroStreak + 1
		if s.zeroConfirmations == 0 || streak < s.zeroConfirmations {
			kept := *prev
			kept.ZeroStreak = streak
			kept.LastSyncedAt = takenAt
			st.ZeroSuppressed++
			s.logger.Info("zero balance suppressed, keeping previous value",
				"wallet", prev.WalletID,
				"token", addr,
				"previous", prev.RawBalance,
				"streak", streak,
			)
			return &kept
		}
		st.ZeroAccepted++
	}

	st.Upserted++
	return row
}

// dedupeNative folds every native spelling into one row at NativeAddress,
// keeping the first nonzero balance.
func (s *Service) dedupeNative(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, rows []*entity.WalletBalance, st *Stats) ([]*entity.WalletBalance, error) {
	var natives []*entity.WalletBalance
	for _, r := range rows {
		if r.IsNative() {
			natives = append(natives, r)
		}
	}
	if len(natives) == 0 || (len(natives) == 1 && natives[0].TokenAddress == entity.NativeAddress) {
		return rows, nil
	}

	keeper := natives[0]
	for _, r := range natives {
		if r.TokenAddress == entity.NativeAddress {
			keeper = r
			break
		}
	}
	if keeper.IsZero() {
		for _, r := range natives {
			if !r.IsZero() {
				keeper = r
				break
			}
		}
	}

	var redundant []string
	for _, r := range natives {
		if r != keeper {
			redundant = append(redundant, r.TokenAddress)
		}
	}
	if len(redundant) > 0 {
		if _, err := s.balances.DeleteBalancesWithTX(ctx, tx, walletID, redundant); err != nil {
			return nil, fmt.Errorf("deleting redundant native rows: %w", err)
		}
	}
	if keeper.TokenAddress != entity.NativeAddress {
		if err := s.balances.RenameTokenAddressWithTX(ctx, tx, walletID, keeper.TokenAddress, entity.NativeAddress); err != nil {
			return nil, fmt.Errorf("renaming native row %q: %w", keeper.TokenAddress, err)
		}
	}

	st.SentinelsMerged = max(len(natives)-1, 1)
	s.logger.Info("merged native sentinel rows",
		"wallet", keeper.WalletID,
		"rows", len(natives),
		"kept", keeper.TokenAddress,
	)

	out := make([]*entity.WalletBalance, 0, len(rows)-len(redundant))
	for _, r := range rows {
		if r.IsNative() && r != keeper {
			continue
		}
		if r == keeper {
			c := *r
			c.TokenAddress = entity.NativeAddress
			r = &c
		}
		out = append(out, r)
	}
	return out, nil
}

// dedupeTokens removes non-native rows whose canonical address collides with
// an earlier row and returns the surviving rows keyed by canonical address.
func (s *Service) dedupeTokens(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, rows []*entity.WalletBalance, canonical func(string) string, st *Stats) (map[string]*entity.WalletBalance, error) {
	byAddr := make(map[string]*entity.WalletBalance, len(rows))
	var redundant []string
	var renames [][2]string

	for _, r := range rows {
		if r.IsNative() {
			byAddr[entity.NativeAddress] = r
			continue
		}
		key := canonical(r.TokenAddress)
		if _, dup := byAddr[key]; dup {
			redundant = append(redundant, r.TokenAddress)
			continue
		}
		byAddr[key] = r
	}

	if len(redundant) > 0 {
		n, err := s.balances.DeleteBalancesWithTX(ctx, tx, walletID, redundant)
		if err != nil {
			return nil, fmt.Errorf("deleting duplicate rows: %w", err)
		}
		st.DuplicatesRemoved = int(n)
		s.logger.Warn("removed duplicate balance rows", "wallet", walletID, "count", n)
	}

	for key, r := range byAddr {
		if key != entity.NativeAddress && r.TokenAddress != key {
			renames = append(renames, [2]string{r.TokenAddress, key})
		}
	}
	for _, rn := range renames {
		if err := s.balances.RenameTokenAddressWithTX(ctx, tx, walletID, rn[0], rn[1]); err != nil {
			return nil, fmt.Errorf("canonicalising row %q: %w", rn[0], err)
		}
		c := *byAddr[rn[1]]
		c.TokenAddress = rn[1]
		byAddr[rn[1]] = &c
	}
	return byAddr, nil
}

// isTxConflict reports whether err is a serialization failure or deadlock
// that a fresh transaction may not hit.
func isTxConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
