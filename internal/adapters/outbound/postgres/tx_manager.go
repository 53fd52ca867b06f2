package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.TxManager = (*TxManager)(nil)

// TxManager scopes a wallet's reconciliation writes to one transaction.
// Conflict replay is the caller's decision; see reconciler.Config.MaxTxAttempts.
type TxManager struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTxManager creates a transaction manager over pool.
func NewTxManager(pool *pgxpool.Pool, logger *slog.Logger) (*TxManager, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{pool: pool, logger: logger.With("component", "tx-manager")}, nil
}

// WithTransaction runs fn in a read-write transaction.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return m.WithTransactionOptions(ctx, pgx.TxOptions{}, fn)
}

// WithTransactionOptions runs fn in a transaction with opts. fn's error is
// returned unchanged after rollback; a panic rolls back and is re-raised.
func (m *TxManager) WithTransactionOptions(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		rollback(ctx, tx, m.logger)
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	committed = true
	return nil
}
