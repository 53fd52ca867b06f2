package outbound

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// BalanceRepository persists wallet balance rows.
// The WithTX methods participate in a transaction opened by TxManager.
type BalanceRepository interface {
	// ListBalances returns every row for a wallet, ordered by creation time.
	ListBalances(ctx context.Context, walletID uuid.UUID) ([]*entity.WalletBalance, error)

	// LockWalletWithTX serialises reconciliation of one wallet for the lifetime of tx.
	LockWalletWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) error

	// ListBalancesWithTX is ListBalances inside tx.
	ListBalancesWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) ([]*entity.WalletBalance, error)

	// UpsertBalanceWithTX inserts or replaces the row keyed by (wallet, token address).
	// Conflict resolution: ON CONFLICT (wallet_id, token_address) DO UPDATE
	UpsertBalanceWithTX(ctx context.Context, tx pgx.Tx, balance *entity.WalletBalance) error

	// RenameTokenAddressWithTX moves a row to a new token address.
	RenameTokenAddressWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, from, to string) error

	// DeleteBalancesWithTX removes the rows for the given token addresses.
	DeleteBalancesWithTX(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, tokenAddresses []string) (int64, error)
}
