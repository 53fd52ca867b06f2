package testutil

import (
	"testing"
	"time"
)

// WaitFor evaluates condition now and then every interval until it holds or
// timeout elapses. It reports whether the condition was met.
func WaitFor(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(min(interval, time.Until(deadline)+time.Millisecond))
	}
}
