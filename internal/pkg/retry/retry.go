// Package retry runs operations against flaky backends with exponential
// backoff, optional jitter and an explicit permanent/transient split.
//
// Adapters classify their own failures: anything wrapped with Permanent is
// returned immediately, everything else is retried until the attempt budget
// runs out.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// 0 means the operation runs exactly once.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the backoff after each retry (default: 2.0).
	BackoffFactor float64

	// Jitter spreads concurrent retries apart.
	// When true, actual backoff is: backoff + rand(0, backoff)
	Jitter bool
}

// DefaultConfig returns three attempts with short jittered backoff.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

// WithAttempts returns a copy of cfg bounded to n total attempts.
func (c Config) WithAttempts(n int) Config {
	if n < 1 {
		n = 1
	}
	c.MaxRetries = n - 1
	return c
}

// Attempts is the total number of times the operation may run.
func (c Config) Attempts() int {
	return c.MaxRetries + 1
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry attempt (optional, for logging/metrics).
// attempt is 1-indexed (first retry is attempt 1).
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// PermanentError marks a failure that will not go away by retrying:
// malformed input, 4xx responses, undecodable payloads.
type PermanentError struct {
	err error
}

func (e *PermanentError) Error() string { return e.err.Error() }

func (e *PermanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do stops immediately. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	var p *PermanentError
	if errors.As(err, &p) {
		return err
	}
	return &PermanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked permanent.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// IsTransient is the default IsRetryableFunc: every error not marked
// permanent and not a context cancellation is retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsPermanent(err)
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. A nil isRetryable means IsTransient.
//
// Example:
//
//	prices, err := retry.Do(ctx, cfg, nil, nil, func() (map[string]float64, error) {
//	    return provider.GetTokenPrices(ctx, chain, batch)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error

	if isRetryable == nil {
		isRetryable = IsTransient
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 100 * time.Millisecond
	}

	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if cfg.Jitter {
				wait = backoff + time.Duration(rand.Int63n(int64(backoff)))
			}

			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// DoVoid is like Do but for functions that don't return a value.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
