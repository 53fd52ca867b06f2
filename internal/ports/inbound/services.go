// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

// SyncOptions tunes one sync call.
type SyncOptions struct {
	// ForceRefresh bypasses every cache read. Failures during a forced
	// refresh are reported instead of being papered over with cached data.
	ForceRefresh bool
}

// BalanceSyncService is the single entry point for refreshing a wallet.
// Inbound adapters (CLI, queue consumer, scheduler) call these methods.
type BalanceSyncService interface {
	SyncWalletBalances(ctx context.Context, wallet *entity.Wallet, opts SyncOptions) (*entity.AggregateResult, error)
	SyncWalletByID(ctx context.Context, walletID uuid.UUID, opts SyncOptions) (*entity.AggregateResult, error)
}

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - sync_worker.Service: ready after the first sync pass, healthy while passes keep completing
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	IsHealthy() bool
}

// SyncStatus summarises the most recent background sync pass.
type SyncStatus struct {
	LastPass     *time.Time `json:"lastPass,omitempty"`
	Wallets      int        `json:"wallets"`
	Degraded     int        `json:"degraded"`
	Failed       int        `json:"failed"`
	QueueEnabled bool       `json:"queue"`
}

// SyncStatusReporter is implemented by health checkers that can describe
// their last sync pass. The health endpoint includes it when available.
type SyncStatusReporter interface {
	SyncStatus() SyncStatus
}
