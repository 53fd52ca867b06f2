// Package main runs one wallet sync and prints the aggregate result as JSON.
//
// A wallet is named by id (-wallet) or by chain and address (-chain, -address).
// With -register an unknown (chain, address) pair is added first.
// With -history the archived snapshots of the wallet are listed instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-balances/internal/application"
	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/pkg/env"
	"github.com/archon-research/stl/stl-balances/internal/ports/inbound"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("sync failed", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	walletID uuid.UUID
	chain    string
	address  string
	name     string
	force    bool
	register bool
	history  bool
	timeout  time.Duration
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("balance-sync", flag.ContinueOnError)
	walletID := fs.String("wallet", "", "Wallet UUID")
	chain := fs.String("chain", "", "Chain code (e.g. ETH, SOL, KDA)")
	address := fs.String("address", "", "Wallet address on -chain")
	name := fs.String("name", "", "Wallet name used with -register")
	force := fs.Bool("force", false, "Bypass every cache")
	register := fs.Bool("register", false, "Register the (chain, address) wallet if it is unknown")
	history := fs.Bool("history", false, "List archived snapshots instead of syncing")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		chain:    strings.ToUpper(strings.TrimSpace(*chain)),
		address:  strings.TrimSpace(*address),
		name:     *name,
		force:    *force,
		register: *register,
		history:  *history,
		timeout:  *timeout,
	}

	switch {
	case *walletID != "" && (cfg.chain != "" || cfg.address != ""):
		return cliConfig{}, errors.New("use either -wallet or -chain/-address, not both")
	case *walletID != "":
		id, err := uuid.Parse(*walletID)
		if err != nil {
			return cliConfig{}, fmt.Errorf("invalid -wallet: %w", err)
		}
		cfg.walletID = id
		if cfg.register {
			return cliConfig{}, errors.New("-register needs -chain and -address")
		}
	case cfg.chain == "" || cfg.address == "":
		return cliConfig{}, errors.New("wallet not provided (use -wallet, or -chain and -address)")
	}
	if cfg.timeout <= 0 {
		return cliConfig{}, errors.New("-timeout must be positive")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	env.Load()
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}

	// stdout carries the JSON result.
	logger := env.NewLogger(os.Stderr, slog.LevelWarn)
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.ConfigFromEnv("balance-sync"))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	appCfg := application.ConfigFromEnv()
	appCfg.Logger = logger
	app, err := application.Build(ctx, appCfg)
	if err != nil {
		return err
	}
	defer app.Close()

	wallet, err := resolveWallet(ctx, app, cfg)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if cfg.history {
		if app.Archive == nil {
			return errors.New("snapshot archive is not configured (set SNAPSHOT_BUCKET)")
		}
		snaps, err := app.Archive.ListSnapshots(ctx, wallet.ChainCode, wallet.ID)
		if err != nil {
			return err
		}
		return enc.Encode(snaps)
	}

	res, err := app.Sync.SyncWalletBalances(ctx, wallet, inbound.SyncOptions{ForceRefresh: cfg.force})
	if err != nil {
		return err
	}
	return enc.Encode(res)
}

func resolveWallet(ctx context.Context, app *application.App, cfg cliConfig) (*entity.Wallet, error) {
	if cfg.walletID != uuid.Nil {
		return app.Wallets.GetWallet(ctx, cfg.walletID)
	}

	w, err := app.Wallets.GetWalletByAddress(ctx, cfg.chain, cfg.address)
	if err == nil || !errors.Is(err, entity.ErrNotFound) || !cfg.register {
		return w, err
	}

	adapter, err := app.Registry.Adapter(cfg.chain)
	if err != nil {
		return nil, err
	}
	if err := adapter.ValidateAddress(cfg.address); err != nil {
		return nil, err
	}
	w, err = entity.NewWallet(cfg.chain, cfg.address, cfg.name)
	if err != nil {
		return nil, err
	}
	if err := app.Wallets.UpsertWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("registering wallet: %w", err)
	}
	return w, nil
}
