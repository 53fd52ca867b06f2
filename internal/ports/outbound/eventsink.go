package outbound

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType represents the type of event.
type EventType string

const (
	EventTypeBalancesSynced EventType = "balances_synced"
)

// BalancesSyncedEvent is published after a wallet's balances were reconciled.
type BalancesSyncedEvent struct {
	WalletID          string          `json:"walletId"`
	ChainCode         string          `json:"chain"`
	Address           string          `json:"address"`
	TotalValueUSD     decimal.Decimal `json:"totalValueUsd"`
	TotalChange24hUSD decimal.Decimal `json:"totalChange24hUsd"`
	Holdings          int             `json:"holdings"`
	ErrorCount        int             `json:"errorCount"`
	SyncedAt          time.Time       `json:"syncedAt"`
}

func (e BalancesSyncedEvent) EventType() EventType { return EventTypeBalancesSynced }

// EventSink publishes sync events to downstream consumers.
type EventSink interface {
	Publish(ctx context.Context, event BalancesSyncedEvent) error

	// Close closes the sink and releases any resources.
	Close() error
}
