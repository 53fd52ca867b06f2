// Package main applies the embedded database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archon-research/stl/stl-balances/db/migrations"
	"github.com/archon-research/stl/stl-balances/db/migrator"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl/stl-balances/internal/pkg/env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	dbURL  string
	dir    string
	status bool
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbURL := fs.String("db", "", "PostgreSQL connection URL")
	dir := fs.String("dir", "", "Read migrations from this directory instead of the embedded set")
	status := fs.Bool("status", false, "List applied migrations and exit")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{dbURL: *dbURL, dir: *dir, status: *status}
	if cfg.dbURL == "" {
		cfg.dbURL = env.Get("DATABASE_URL", "")
	}
	if cfg.dbURL == "" {
		return cliConfig{}, fmt.Errorf("database URL not provided (use -db flag or DATABASE_URL env var)")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	env.Load()
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	logger := env.NewLogger(os.Stdout, slog.LevelInfo)
	slog.SetDefault(logger)

	pool, err := postgres.OpenPool(ctx, postgres.PoolConfigFromURL(cfg.dbURL), logger)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)
	if cfg.dir != "" {
		m = migrator.NewFromDir(pool, cfg.dir, logger)
	}

	if cfg.status {
		applied, err := m.ListApplied(ctx)
		if err != nil {
			return err
		}
		for _, name := range applied {
			fmt.Println(name)
		}
		return nil
	}

	if err := m.ApplyAll(ctx); err != nil {
		return err
	}
	logger.Info("all migrations up to date")
	return nil
}
