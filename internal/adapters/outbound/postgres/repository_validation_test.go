package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

func TestConstructors_NilPool(t *testing.T) {
	const want = "database pool cannot be nil"

	if _, err := NewTokenRepository(nil, nil, 0); err == nil || err.Error() != want {
		t.Errorf("NewTokenRepository err = %v, want %q", err, want)
	}
	if _, err := NewBalanceRepository(nil, nil); err == nil || err.Error() != want {
		t.Errorf("NewBalanceRepository err = %v, want %q", err, want)
	}
	if _, err := NewWalletRepository(nil, nil); err == nil || err.Error() != want {
		t.Errorf("NewWalletRepository err = %v, want %q", err, want)
	}
	if _, err := NewTxManager(nil, nil); err == nil || err.Error() != want {
		t.Errorf("NewTxManager err = %v, want %q", err, want)
	}
}

func TestApplyPoolConfig(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/db")
	if err != nil {
		t.Fatal(err)
	}
	applyPoolConfig(poolCfg, PoolConfigFromURL(""))

	if poolCfg.MaxConns != 16 || poolCfg.MinConns != 1 {
		t.Errorf("conns = %d/%d", poolCfg.MinConns, poolCfg.MaxConns)
	}
	params := poolCfg.ConnConfig.RuntimeParams
	if params["application_name"] != "stl-balances" {
		t.Errorf("application_name = %q", params["application_name"])
	}
	if params["statement_timeout"] != "30000" {
		t.Errorf("statement_timeout = %q", params["statement_timeout"])
	}

	// A name given in the URL wins.
	poolCfg, _ = pgxpool.ParseConfig("postgres://u:p@localhost:5432/db?application_name=ops")
	applyPoolConfig(poolCfg, PoolConfig{ApplicationName: "stl-balances"})
	if got := poolCfg.ConnConfig.RuntimeParams["application_name"]; got != "ops" {
		t.Errorf("application_name = %q, want ops", got)
	}
	if _, ok := poolCfg.ConnConfig.RuntimeParams["statement_timeout"]; ok {
		t.Error("zero StatementTimeout should leave the server default")
	}
}

func TestOpenPool_InvalidURL(t *testing.T) {
	_, err := OpenPool(context.Background(), PoolConfig{URL: "postgres://u:p@localhost:notaport/db"}, nil)
	if !retry.IsPermanent(err) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestNumericOrZero(t *testing.T) {
	if got := numericOrZero(""); got != "0" {
		t.Errorf("numericOrZero(\"\") = %q", got)
	}
	if got := numericOrZero("123"); got != "123" {
		t.Errorf("numericOrZero(123) = %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("23505 should be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("23503 is a foreign key violation")
	}
	if isUniqueViolation(errors.New("plain")) || isUniqueViolation(nil) {
		t.Error("non-pg errors are not unique violations")
	}
}

func TestNullableTime(t *testing.T) {
	if nullableTime(time.Time{}) != nil {
		t.Error("zero time should map to NULL")
	}
	now := time.Now()
	if got := nullableTime(now); got == nil || !got.Equal(now) {
		t.Errorf("nullableTime(now) = %v", got)
	}
}
