package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/stl/stl-balances/db/migrations"
	"github.com/archon-research/stl/stl-balances/db/migrator"
	"github.com/archon-research/stl/stl-balances/internal/pkg/retry"
)

// PostgresImage is the server version the schema is tested against.
const PostgresImage = "postgres:17-alpine"

// StartPostgres runs an empty PostgreSQL container and returns its DSN.
// The schema is not applied.
func StartPostgres(t *testing.T) (dsn string, cleanup func()) {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, PostgresImage,
		tcpostgres.WithDatabase("balances"),
		tcpostgres.WithUsername("balances"),
		tcpostgres.WithPassword("balances"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("starting postgres: %v", err)
	}

	dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres connection string: %v", err)
	}
	return dsn, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminating postgres: %v", err)
		}
	}
}

// ConnectPool opens a pool on dsn, pinging until the server answers.
func ConnectPool(t *testing.T, dsn string) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("creating pool: %v", err)
	}
	cfg := retry.Config{InitialBackoff: 50 * time.Millisecond, MaxBackoff: 500 * time.Millisecond}.WithAttempts(30)
	if err := retry.DoVoid(ctx, cfg, func(err error) bool { return !errors.Is(err, context.DeadlineExceeded) }, nil,
		func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		t.Fatalf("database never became reachable: %v", err)
	}
	return pool
}

// RunMigrations applies the embedded schema.
func RunMigrations(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	if err := migrator.New(pool, migrations.FS, DiscardLogger()).ApplyAll(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
}

// SetupPostgres starts a container, connects and migrates it.
func SetupPostgres(t *testing.T) (pool *pgxpool.Pool, cleanup func()) {
	t.Helper()
	dsn, stop := StartPostgres(t)
	pool = ConnectPool(t, dsn)
	RunMigrations(t, pool)
	return pool, func() {
		pool.Close()
		stop()
	}
}
