package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager scopes a wallet's reconciliation writes to one transaction:
// committed when fn returns nil, rolled back otherwise.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}
