// Package main runs the balance worker: periodic sync passes over every
// registered wallet, price refreshes, optional SQS-driven syncs, and an HTTP
// listener serving health probes and the sync API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	httpadapter "github.com/archon-research/stl/stl-balances/internal/adapters/inbound/http"
	sqsadapter "github.com/archon-research/stl/stl-balances/internal/adapters/outbound/sqs"
	"github.com/archon-research/stl/stl-balances/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl/stl-balances/internal/application"
	"github.com/archon-research/stl/stl-balances/internal/pkg/env"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/services/sync_worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	healthAddr         string
	queueURL           string
	syncInterval       time.Duration
	priceInterval      time.Duration
	cacheFlushInterval time.Duration
	shutdownTimeout    time.Duration
}

func parseConfig(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("balance-worker", flag.ContinueOnError)
	healthAddr := fs.String("addr", "", "HTTP listen address for health and sync API")
	queueURL := fs.String("queue", "", "SQS queue URL for sync requests (optional)")
	syncInterval := fs.Duration("sync-interval", 0, "Interval between full sync passes")
	priceInterval := fs.Duration("price-interval", 0, "Interval between price refreshes")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		healthAddr:         *healthAddr,
		queueURL:           *queueURL,
		syncInterval:       *syncInterval,
		priceInterval:      *priceInterval,
		cacheFlushInterval: env.GetDuration("CACHE_FLUSH_INTERVAL", 0),
		shutdownTimeout:    env.GetDuration("SHUTDOWN_TIMEOUT", 25*time.Second),
	}

	if cfg.healthAddr == "" {
		cfg.healthAddr = env.Get("HEALTH_ADDR", ":8080")
	}
	if cfg.queueURL == "" {
		cfg.queueURL = env.Get("AWS_SQS_QUEUE_URL", "")
	}
	if cfg.syncInterval == 0 {
		cfg.syncInterval = env.GetDuration("SYNC_INTERVAL", 5*time.Minute)
	}
	if cfg.priceInterval == 0 {
		cfg.priceInterval = env.GetDuration("PRICE_INTERVAL", 15*time.Minute)
	}

	if cfg.syncInterval < 0 || cfg.priceInterval < 0 {
		return cliConfig{}, errors.New("intervals must be positive")
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

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.ConfigFromEnv("balance-worker"))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	appCfg := application.ConfigFromEnv()
	appCfg.Logger = logger
	app, err := application.Build(ctx, appCfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var consumer outbound.SQSConsumer
	if cfg.queueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(appCfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("loading AWS config: %w", err)
		}
		var sqsOptFns []func(*sqs.Options)
		if appCfg.AWSEndpoint != "" {
			sqsOptFns = append(sqsOptFns, func(o *sqs.Options) {
				o.BaseEndpoint = aws.String(appCfg.AWSEndpoint)
			})
		}
		c, err := sqsadapter.NewConsumer(awsCfg, sqsadapter.Config{QueueURL: cfg.queueURL}, logger, sqsOptFns...)
		if err != nil {
			return fmt.Errorf("creating SQS consumer: %w", err)
		}
		defer c.Close()
		consumer = c
	}

	worker, err := sync_worker.NewService(sync_worker.Config{
		SyncInterval:       cfg.syncInterval,
		PriceInterval:      cfg.priceInterval,
		CacheFlushInterval: cfg.cacheFlushInterval,
		Logger:             logger,
	}, app.Sync, app.Wallets, consumer)
	if err != nil {
		return fmt.Errorf("creating worker: %w", err)
	}

	var shuttingDown atomic.Bool
	api := httpadapter.NewHandler(app.Sync, app.Wallets, logger)
	health := httpadapter.NewHealthServer(httpadapter.HealthServerConfig{
		Addr:   cfg.healthAddr,
		Logger: logger,
		Routes: api.RegisterRoutes,
	}, worker, &shuttingDown)
	health.Start()

	logger.Info("starting balance worker",
		"addr", cfg.healthAddr,
		"chains", app.Registry.Chains(),
		"queue", cfg.queueURL != "",
		"syncInterval", cfg.syncInterval,
		"priceInterval", cfg.priceInterval)

	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := worker.Stop(); err != nil {
			logger.Error("error stopping worker", "error", err)
		}
		if err := health.Shutdown(5 * time.Second); err != nil {
			logger.Error("error stopping health server", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}
