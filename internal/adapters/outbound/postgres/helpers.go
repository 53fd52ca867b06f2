package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rollback rolls back the transaction and logs the error if it is not pgx.ErrTxClosed.
func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// numericOrZero normalises an empty raw balance to "0" for NUMERIC columns.
func numericOrZero(raw string) string {
	if raw == "" {
		return "0"
	}
	return raw
}

// isUniqueViolation reports whether err is a unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullableTime maps the zero time to NULL so column defaults apply.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
