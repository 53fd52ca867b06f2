package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errTransient = errors.New("transient error")

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

// =============================================================================
// Do
// =============================================================================

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(3), nil, nil, func() (int, error) {
		calls++
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected result 42, got %d", result)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(3), nil, nil, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %q", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopsOnPermanent(t *testing.T) {
	calls := 0
	base := errors.New("bad request")
	_, err := Do(context.Background(), fastConfig(5), nil, nil, func() (int, error) {
		calls++
		return 0, Permanent(base)
	})

	if !errors.Is(err, base) {
		t.Errorf("expected wrapped base error, got %v", err)
	}
	if !IsPermanent(err) {
		t.Error("expected permanent marker to survive")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ThreeAttemptBudget(t *testing.T) {
	calls := 0
	cfg := fastConfig(0).WithAttempts(3)

	_, err := Do(context.Background(), cfg, nil, nil, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("expected transient error wrapped, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if cfg.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", cfg.Attempts())
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := Config{MaxRetries: 10, InitialBackoff: 100 * time.Millisecond}

	onRetry := func(int, error, time.Duration) { cancel() }

	_, err := Do(ctx, cfg, nil, onRetry, func() (int, error) {
		calls++
		return 0, errTransient
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestDo_ExponentialBackoff(t *testing.T) {
	cfg := Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     25 * time.Millisecond,
		BackoffFactor:  2.0,
	}

	var backoffs []time.Duration
	onRetry := func(_ int, _ error, backoff time.Duration) {
		backoffs = append(backoffs, backoff)
	}

	_, _ = Do(context.Background(), cfg, nil, onRetry, func() (int, error) {
		return 0, errTransient
	})

	expected := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if len(backoffs) != len(expected) {
		t.Fatalf("expected %d backoffs, got %v", len(expected), backoffs)
	}
	for i, exp := range expected {
		if backoffs[i] != exp {
			t.Errorf("backoff[%d]: expected %v, got %v", i, exp, backoffs[i])
		}
	}
}

func TestDo_JitterStaysWithinBounds(t *testing.T) {
	cfg := Config{
		MaxRetries:     4,
		InitialBackoff: 2 * time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Jitter:         true,
	}

	onRetry := func(attempt int, _ error, backoff time.Duration) {
		if backoff < 2*time.Millisecond || backoff >= 4*time.Millisecond {
			t.Errorf("attempt %d: backoff %v outside [2ms, 4ms)", attempt, backoff)
		}
	}

	_, _ = Do(context.Background(), cfg, nil, onRetry, func() (int, error) {
		return 0, errTransient
	})
}

func TestDo_CustomRetryable(t *testing.T) {
	calls := 0
	never := func(error) bool { return false }

	err := DoVoid(context.Background(), fastConfig(3), never, nil, func() error {
		calls++
		return errTransient
	})

	if !errors.Is(err, errTransient) {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// =============================================================================
// Classification
// =============================================================================

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errTransient, true},
		{"permanent", Permanent(errTransient), false},
		{"wrapped permanent", fmt.Errorf("outer: %w", Permanent(errTransient)), false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}
