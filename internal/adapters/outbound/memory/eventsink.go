package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

var _ outbound.EventSink = (*EventSink)(nil)

// ErrSinkClosed is returned by Publish after Close.
var ErrSinkClosed = errors.New("event sink closed")

// EventSink keeps the most recent BalancesSyncedEvents in a ring buffer.
// It backs tests and local runs without a topic.
type EventSink struct {
	mu     sync.Mutex
	ring   []outbound.BalancesSyncedEvent
	next   int
	full   bool
	closed bool
}

// NewEventSink keeps up to capacity events; capacity <= 0 means 1024.
func NewEventSink(capacity int) *EventSink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &EventSink{ring: make([]outbound.BalancesSyncedEvent, capacity)}
}

func (s *EventSink) Publish(ctx context.Context, event outbound.BalancesSyncedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.ring[s.next] = event
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *EventSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// GetEventsForWallet returns the retained events for walletID, oldest first.
func (s *EventSink) GetEventsForWallet(walletID string) []outbound.BalancesSyncedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, n := 0, s.next
	if s.full {
		start, n = s.next, len(s.ring)
	}
	var out []outbound.BalancesSyncedEvent
	for i := range n {
		e := s.ring[(start+i)%len(s.ring)]
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out
}
