package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that BalanceRepository implements outbound.BalanceRepository
var _ outbound.BalanceRepository = (*BalanceRepository)(nil)

const balanceColumns = `wallet_id::text, token_address, raw_balance::text, balance::text,
	is_visible, zero_streak, last_synced_at, created_at, updated_at`

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// BalanceRepository is a PostgreSQL implementation of the outbound.BalanceRepository port.
type BalanceRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBalanceRepository creates a new PostgreSQL Balance repository.
func NewBalanceRepository(pool *pgxpool.Pool, logger *slog.Logger) (*BalanceRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BalanceRepository{pool: pool, logger: logger.With("component", "balance-repository")}, nil
}

func (r *BalanceRepository) ListBalances(ctx context.Context, walletID uuid.UUID) ([]*entity.WalletBalance, error) {
	return listBalances(ctx, r.pool, walletID)
}

// LockWalletWithTX takes a transaction-scoped advisory lock keyed by the wallet id.
// Concurrent reconciliations of the same wallet queue behind it.
func (r *BalanceRepository) LockWalletWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, walletID.String()); err != nil {
		return fmt.Errorf("locking wallet %s: %w", walletID, err)
	}
	return nil
}

func (r *BalanceRepository) ListBalancesWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) ([]*entity.WalletBalance, error) {
	return listBalances(ctx, tx, walletID)
}

func listBalances(ctx context.Context, q queryer, walletID uuid.UUID) ([]*entity.WalletBalance, error) {
	rows, err := q.Query(ctx, `
		SELECT `+balanceColumns+`
		FROM wallet_balances
		WHERE wallet_id = $1::uuid
		ORDER BY created_at, token_address
	`, walletID.String())
	if err != nil {
		return nil, fmt.Errorf("querying balances: %w", err)
	}
	defer rows.Close()

	var out []*entity.WalletBalance
	for rows.Next() {
		var (
			b                 entity.WalletBalance
			walletIDText, bal string
		)
		if err := rows.Scan(
			&walletIDText, &b.TokenAddress, &b.RawBalance, &bal,
			&b.IsVisible, &b.ZeroStreak, &b.LastSyncedAt, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning balance: %w", err)
		}
		if b.WalletID, err = uuid.Parse(walletIDText); err != nil {
			return nil, fmt.Errorf("parsing wallet id %q: %w", walletIDText, err)
		}
		if b.Balance, err = decimal.NewFromString(bal); err != nil {
			return nil, fmt.Errorf("parsing balance %q: %w", bal, err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating balances: %w", err)
	}
	return out, nil
}

// UpsertBalanceWithTX inserts or replaces the row keyed by (wallet, token address).
// Conflict resolution: ON CONFLICT (wallet_id, token_address) DO UPDATE
func (r *BalanceRepository) UpsertBalanceWithTX(ctx context.Context, tx pgx.Tx, balance *entity.WalletBalance) error {
	if balance == nil {
		return fmt.Errorf("balance cannot be nil")
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_balances (
			wallet_id, token_address, raw_balance, balance, is_visible, zero_streak,
			last_synced_at, created_at, updated_at
		)
		VALUES ($1::uuid, $2, $3::numeric, $4::numeric, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (wallet_id, token_address) DO UPDATE SET
			raw_balance = EXCLUDED.raw_balance,
			balance = EXCLUDED.balance,
			is_visible = EXCLUDED.is_visible,
			zero_streak = EXCLUDED.zero_streak,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()
	`,
		balance.WalletID.String(), balance.TokenAddress, numericOrZero(balance.RawBalance), balance.Balance.String(),
		balance.IsVisible, balance.ZeroStreak, balance.LastSyncedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting balance %s/%q: %w", balance.WalletID, balance.TokenAddress, err)
	}
	return nil
}

// RenameTokenAddressWithTX moves a row to a new token address. It fails if a
// row already exists at the target.
func (r *BalanceRepository) RenameTokenAddressWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, from, to string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE wallet_balances
		SET token_address = $3, updated_at = NOW()
		WHERE wallet_id = $1::uuid AND token_address = $2
	`, walletID.String(), from, to)
	if isUniqueViolation(err) {
		return fmt.Errorf("rename %q -> %q: target row already exists: %w", from, to, err)
	}
	if err != nil {
		return fmt.Errorf("renaming token address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rename %q: %w", from, entity.ErrNotFound)
	}
	return nil
}

func (r *BalanceRepository) DeleteBalancesWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, tokenAddresses []string) (int64, error) {
	if len(tokenAddresses) == 0 {
		return 0, nil
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM wallet_balances
		WHERE wallet_id = $1::uuid AND token_address = ANY($2)
	`, walletID.String(), tokenAddresses)
	if err != nil {
		return 0, fmt.Errorf("deleting balances: %w", err)
	}
	return tag.RowsAffected(), nil
}
