package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

// Compile-time check that WalletRepository implements outbound.WalletRepository
var _ outbound.WalletRepository = (*WalletRepository)(nil)

const walletColumns = `id::text, chain_code, address, name, created_at, updated_at`

// WalletRepository is a PostgreSQL implementation of the outbound.WalletRepository port.
type WalletRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewWalletRepository creates a new PostgreSQL Wallet repository.
func NewWalletRepository(pool *pgxpool.Pool, logger *slog.Logger) (*WalletRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WalletRepository{pool: pool, logger: logger.With("component", "wallet-repository")}, nil
}

func (r *WalletRepository) GetWallet(ctx context.Context, id uuid.UUID) (*entity.Wallet, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1::uuid`, id.String())
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying wallet: %w", err)
	}
	return w, nil
}

// GetWalletByAddress matches the address case-insensitively so that
// mixed-case EVM checksums resolve to the stored row.
func (r *WalletRepository) GetWalletByAddress(ctx context.Context, chainCode, address string) (*entity.Wallet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+walletColumns+`
		FROM wallets
		WHERE chain_code = $1 AND lower(address) = lower($2)
		ORDER BY created_at
		LIMIT 1
	`, chainCode, address)
	w, err := scanWallet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wallet %s/%s: %w", chainCode, address, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying wallet by address: %w", err)
	}
	return w, nil
}

// ListWallets returns wallets on the given chains, or every wallet when chainCodes is empty.
func (r *WalletRepository) ListWallets(ctx context.Context, chainCodes []string) ([]*entity.Wallet, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(chainCodes) == 0 {
		rows, err = r.pool.Query(ctx, `SELECT `+walletColumns+` FROM wallets ORDER BY created_at`)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE chain_code = ANY($1) ORDER BY created_at`, chainCodes)
	}
	if err != nil {
		return nil, fmt.Errorf("querying wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*entity.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating wallets: %w", err)
	}
	return wallets, nil
}

// UpsertWallet inserts a wallet or renames the existing one.
// Conflict resolution: ON CONFLICT (chain_code, address) DO UPDATE
func (r *WalletRepository) UpsertWallet(ctx context.Context, wallet *entity.Wallet) error {
	if wallet == nil {
		return fmt.Errorf("wallet cannot be nil")
	}
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, chain_code, address, name, created_at, updated_at)
		VALUES ($1::uuid, $2, $3, $4, COALESCE($5, NOW()), NOW())
		ON CONFLICT (chain_code, address) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = NOW()
		RETURNING id::text
	`, wallet.ID.String(), wallet.ChainCode, wallet.Address, wallet.Name, nullableTime(wallet.CreatedAt)).Scan(&id)
	if err != nil {
		return fmt.Errorf("upserting wallet: %w", err)
	}

	stored, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parsing wallet id %q: %w", id, err)
	}
	if stored != wallet.ID {
		r.logger.Debug("wallet already tracked, keeping existing id", "chain", wallet.ChainCode, "address", wallet.Address, "id", stored)
		wallet.ID = stored
	}
	return nil
}

func scanWallet(row pgx.Row) (*entity.Wallet, error) {
	var (
		w  entity.Wallet
		id string
	)
	if err := row.Scan(&id, &w.ChainCode, &w.Address, &w.Name, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing wallet id %q: %w", id, err)
	}
	w.ID = parsed
	return &w, nil
}
