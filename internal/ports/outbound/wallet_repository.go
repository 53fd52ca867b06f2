package outbound

import (
	"context"

	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// WalletRepository persists tracked wallets.
type WalletRepository interface {
	GetWallet(ctx context.Context, id uuid.UUID) (*entity.Wallet, error)
	GetWalletByAddress(ctx context.Context, chainCode, address string) (*entity.Wallet, error)
	ListWallets(ctx context.Context, chainCodes []string) ([]*entity.Wallet, error)
	UpsertWallet(ctx context.Context, wallet *entity.Wallet) error
}
