package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/archon-research/stl/stl-balances/internal/ports/outbound"
)

func TestEventSink_KeepsMostRecent(t *testing.T) {
	sink := NewEventSink(3)
	ctx := context.Background()
	for i, w := range []string{"a", "b", "a", "a", "c"} {
		if err := sink.Publish(ctx, outbound.BalancesSyncedEvent{WalletID: w, Holdings: i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	got := sink.GetEventsForWallet("a")
	if len(got) != 2 || got[0].Holdings != 2 || got[1].Holdings != 3 {
		t.Errorf("events for a = %+v, want holdings [2 3]", got)
	}
	if len(sink.GetEventsForWallet("b")) != 0 {
		t.Error("b should have been evicted")
	}
	if len(sink.GetEventsForWallet("c")) != 1 {
		t.Error("c missing")
	}
}

func TestEventSink_Closed(t *testing.T) {
	sink := NewEventSink(0)
	_ = sink.Close()
	err := sink.Publish(context.Background(), outbound.BalancesSyncedEvent{WalletID: "a"})
	if !errors.Is(err, ErrSinkClosed) {
		t.Errorf("err = %v, want ErrSinkClosed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewEventSink(1).Publish(ctx, outbound.BalancesSyncedEvent{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
