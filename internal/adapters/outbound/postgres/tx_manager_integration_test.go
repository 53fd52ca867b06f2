//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/stl-balances/internal/testutil"
)

func setupTxManagerTest(t *testing.T) (*TxManager, *pgxpool.Pool) {
	t.Helper()
	pool, cleanup := testutil.SetupPostgres(t)
	t.Cleanup(cleanup)

	txm, err := NewTxManager(pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("failed to create TxManager: %v", err)
	}
	return txm, pool
}

func countWallets(t *testing.T, pool *pgxpool.Pool, address string) int {
	t.Helper()
	var count int
	if err := pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM wallets WHERE address = $1", address).Scan(&count); err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	return count
}

const insertWallet = `INSERT INTO wallets (id, chain_code, address) VALUES (gen_random_uuid(), 'ETH', $1)`

func TestTxManager_WithTransaction_Commit(t *testing.T) {
	txm, pool := setupTxManagerTest(t)
	ctx := context.Background()

	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertWallet, "0xcommit")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
	if n := countWallets(t, pool, "0xcommit"); n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
}

func TestTxManager_WithTransaction_Rollback(t *testing.T) {
	txm, pool := setupTxManagerTest(t)
	ctx := context.Background()

	testErr := errors.New("intentional failure")
	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertWallet, "0xrollback"); err != nil {
			return err
		}
		return testErr
	})
	if !errors.Is(err, testErr) {
		t.Fatalf("expected testErr, got: %v", err)
	}
	if n := countWallets(t, pool, "0xrollback"); n != 0 {
		t.Errorf("expected 0 rows (rollback), got %d", n)
	}
}

func TestTxManager_WithTransaction_PanicRollback(t *testing.T) {
	txm, pool := setupTxManagerTest(t)
	ctx := context.Background()

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic to be re-raised")
			}
		}()
		_ = txm.WithTransaction(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, insertWallet, "0xpanic"); err != nil {
				return err
			}
			panic("intentional panic")
		})
	}()

	if n := countWallets(t, pool, "0xpanic"); n != 0 {
		t.Errorf("expected 0 rows (rollback after panic), got %d", n)
	}
}

func TestTxManager_WithTransaction_MultipleOperations(t *testing.T) {
	txm, pool := setupTxManagerTest(t)
	ctx := context.Background()

	err := txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		for i := 1; i <= 3; i++ {
			if _, err := tx.Exec(ctx, insertWallet, fmt.Sprintf("0xmulti%d", i)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if n := countWallets(t, pool, fmt.Sprintf("0xmulti%d", i)); n != 1 {
			t.Errorf("0xmulti%d: expected 1 row, got %d", i, n)
		}
	}
}

func TestTxManager_ReadOnlyOption(t *testing.T) {
	txm, _ := setupTxManagerTest(t)
	ctx := context.Background()

	err := txm.WithTransactionOptions(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertWallet, "0xreadonly")
		return err
	})
	if err == nil {
		t.Fatal("expected write in read-only transaction to fail")
	}
}
