package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedWallet inserts a wallet and returns its id.
func SeedWallet(t *testing.T, ctx context.Context, pool *pgxpool.Pool, chainCode, address string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO wallets (id, chain_code, address, name)
		VALUES ($1::uuid, $2, $3, 'seed')
	`, id.String(), chainCode, address)
	if err != nil {
		t.Fatalf("failed to insert wallet %s/%s: %v", chainCode, address, err)
	}
	return id
}

// SeedToken inserts token metadata without a price.
func SeedToken(t *testing.T, ctx context.Context, pool *pgxpool.Pool, chainCode, address, symbol string, decimals int) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO tokens (chain_code, address, symbol, name, decimals, metadata_updated_at)
		VALUES ($1, $2, $3, $3, $4, NOW())
		ON CONFLICT (chain_code, address) DO UPDATE SET symbol = EXCLUDED.symbol
	`, chainCode, address, symbol, decimals)
	if err != nil {
		t.Fatalf("failed to insert token %s: %v", symbol, err)
	}
}

// SeedBalanceRow inserts a raw balance row, bypassing the reconciler.
// Legacy spellings such as 'coin' for the native asset can be seeded this way.
func SeedBalanceRow(t *testing.T, ctx context.Context, pool *pgxpool.Pool, walletID uuid.UUID, tokenAddress, raw string) {
	t.Helper()
	_, err := pool.Exec(ctx, `
		INSERT INTO wallet_balances (wallet_id, token_address, raw_balance, balance)
		VALUES ($1::uuid, $2, $3::numeric, 0)
	`, walletID.String(), tokenAddress, raw)
	if err != nil {
		t.Fatalf("failed to insert balance %s/%q: %v", walletID, tokenAddress, err)
	}
}
