// Package sync_worker keeps tracked wallets fresh in the background.
//
// It runs three periodic jobs (a full wallet sync, a forced price refresh and
// an optional balance-cache flush) and, when a queue is configured, consumes
// on-demand sync requests from SQS.
package sync_worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
	"github.com/archon-research/stl/stl-balances/internal/ports/inbound"
	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
	"github.com/archon-research/stl/stl-balances/internal/services/balance_sync"
)

var (
	_ inbound.HealthChecker      = (*Service)(nil)
	_ inbound.SyncStatusReporter = (*Service)(nil)
)

// Syncer is the part of the sync facade the worker drives.
type Syncer interface {
	inbound.BalanceSyncService
	SyncAll(ctx context.Context, opts inbound.SyncOptions) (balance_sync.SyncAllStats, error)
	RefreshPrices(ctx context.Context) error
	InvalidateBalances(ctx context.Context) (int, error)
}

// Config holds configuration for the sync worker.
type Config struct {
	// SyncInterval between full passes over every wallet. Defaults to 5m.
	SyncInterval time.Duration

	// PriceInterval between forced price refreshes. Defaults to 15m.
	PriceInterval time.Duration

	// CacheFlushInterval between balance-cache flushes. 0 disables flushing.
	CacheFlushInterval time.Duration

	// MaxMessages and PollInterval tune the SQS loop.
	MaxMessages  int
	PollInterval time.Duration

	// UnhealthyAfter is how long without a completed pass before IsHealthy
	// turns false. Defaults to three sync intervals.
	UnhealthyAfter time.Duration

	Logger *slog.Logger
}

func configDefaults() Config {
	return Config{
		SyncInterval:  5 * time.Minute,
		PriceInterval: 15 * time.Minute,
		MaxMessages:   10,
		PollInterval:  time.Second,
		Logger:        slog.Default(),
	}
}

// Service runs the background jobs.
type Service struct {
	config   Config
	syncer   Syncer
	wallets  outbound.WalletRepository
	consumer outbound.SQSConsumer

	ready     atomic.Bool
	lastPass  atomic.Int64 // unix nanos of the last completed sync pass
	lastStats atomic.Pointer[balance_sync.SyncAllStats]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewService creates a sync worker. consumer may be nil to disable the queue.
func NewService(config Config, syncer Syncer, wallets outbound.WalletRepository, consumer outbound.SQSConsumer) (*Service, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if wallets == nil {
		return nil, fmt.Errorf("wallet repository cannot be nil")
	}

	defaults := configDefaults()
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.PriceInterval <= 0 {
		config.PriceInterval = defaults.PriceInterval
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = defaults.MaxMessages
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.UnhealthyAfter <= 0 {
		config.UnhealthyAfter = 3 * config.SyncInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:   config,
		syncer:   syncer,
		wallets:  wallets,
		consumer: consumer,
		logger:   config.Logger.With("component", "sync-worker"),
	}, nil
}

// Start launches the background loops. The first sync pass starts immediately.
func (s *Service) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.every(s.config.SyncInterval, true, s.syncPass)
	s.every(s.config.PriceInterval, false, s.pricePass)
	if s.config.CacheFlushInterval > 0 {
		s.every(s.config.CacheFlushInterval, false, s.flushPass)
	}
	if s.consumer != nil {
		s.every(s.config.PollInterval, false, func(ctx context.Context) {
			if err := s.processMessages(ctx); err != nil {
				s.logger.Error("error processing messages", "error", err)
			}
		})
	}

	s.logger.Info("sync worker started",
		"syncInterval", s.config.SyncInterval,
		"priceInterval", s.config.PriceInterval,
		"queue", s.consumer != nil,
	)
	return nil
}

// Stop cancels the loops and waits for in-flight work to finish.
func (s *Service) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sync worker stopped")
	return nil
}

// IsReady reports whether the first full sync pass has completed.
func (s *Service) IsReady() bool {
	return s.ready.Load()
}

// IsHealthy reports whether a sync pass completed recently.
func (s *Service) IsHealthy() bool {
	last := s.lastPass.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) < s.config.UnhealthyAfter
}

// SyncStatus reports the outcome of the last completed sync pass.
func (s *Service) SyncStatus() inbound.SyncStatus {
	st := inbound.SyncStatus{QueueEnabled: s.consumer != nil}
	if last := s.lastPass.Load(); last != 0 {
		t := time.Unix(0, last).UTC()
		st.LastPass = &t
	}
	if stats := s.lastStats.Load(); stats != nil {
		st.Wallets = stats.Wallets
		st.Degraded = stats.Degraded
		st.Failed = stats.Failed
	}
	return st
}

func (s *Service) every(interval time.Duration, immediate bool, job func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if immediate {
			job(s.ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				job(s.ctx)
			}
		}
	}()
}

func (s *Service) syncPass(ctx context.Context) {
	start := time.Now()
	stats, err := s.syncer.SyncAll(ctx, inbound.SyncOptions{})
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sync pass failed", "error", err)
		}
		return
	}

	s.lastStats.Store(&stats)
	s.lastPass.Store(time.Now().UnixNano())
	s.ready.Store(true)
	s.logger.Info("sync pass complete",
		"wallets", stats.Wallets,
		"degraded", stats.Degraded,
		"failed", stats.Failed,
		"duration", time.Since(start),
	)
}

func (s *Service) pricePass(ctx context.Context) {
	if err := s.syncer.RefreshPrices(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("price refresh incomplete", "error", err)
	}
}

func (s *Service) flushPass(ctx context.Context) {
	n, err := s.syncer.InvalidateBalances(ctx)
	if err != nil {
		s.logger.Warn("balance cache flush failed", "error", err)
		return
	}
	s.logger.Debug("balance caches flushed", "wallets", n)
}

func (s *Service) processMessages(ctx context.Context) error {
	messages, err := s.consumer.ReceiveMessages(ctx, s.config.MaxMessages)
	if err != nil {
		return fmt.Errorf("receiving messages: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	s.logger.Info("received messages", "count", len(messages))

	var errs []error
	for _, msg := range messages {
		err := s.processMessage(ctx, msg)
		if err != nil && !isPoison(err) {
			// Left on the queue for redelivery.
			s.logger.Error("failed to process message", "messageId", msg.MessageID, "error", err)
			errs = append(errs, err)
			continue
		}
		if err != nil {
			s.logger.Warn("dropping unprocessable message", "messageId", msg.MessageID, "error", err)
		}

		if deleteErr := s.consumer.DeleteMessage(ctx, msg.ReceiptHandle); deleteErr != nil {
			s.logger.Error("failed to delete message", "error", deleteErr)
		}
	}

	return errors.Join(errs...)
}

var errMalformedRequest = errors.New("malformed sync request")

func (s *Service) processMessage(ctx context.Context, msg outbound.SQSMessage) error {
	var req outbound.SyncRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	opts := inbound.SyncOptions{ForceRefresh: req.Force}

	var (
		res *entity.AggregateResult
		err error
	)
	switch {
	case req.WalletID != "":
		id, perr := uuid.Parse(req.WalletID)
		if perr != nil {
			return fmt.Errorf("%w: wallet id %q: %v", errMalformedRequest, req.WalletID, perr)
		}
		res, err = s.syncer.SyncWalletByID(ctx, id, opts)
	case req.Chain != "" && req.Address != "":
		wallet, werr := s.wallets.GetWalletByAddress(ctx, req.Chain, req.Address)
		if werr != nil {
			return fmt.Errorf("resolving wallet %s/%s: %w", req.Chain, req.Address, werr)
		}
		res, err = s.syncer.SyncWalletBalances(ctx, wallet, opts)
	default:
		return fmt.Errorf("%w: neither walletId nor chain and address set", errMalformedRequest)
	}
	if err != nil {
		return err
	}

	s.logger.Info("on-demand sync complete",
		"wallet", res.WalletID,
		"chain", res.ChainCode,
		"force", req.Force,
		"errors", res.ErrorCount,
	)
	return nil
}

// isPoison reports whether redelivering the message cannot succeed.
func isPoison(err error) bool {
	return errors.Is(err, errMalformedRequest) ||
		errors.Is(err, entity.ErrNotFound) ||
		entity.IsInputError(err)
}
