package testutil

import (
	"context"
	"testing"
	"time"
)

// ShortTestContext creates a context with a short timeout (5 seconds) for quick tests.
func ShortTestContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// Eventually polls cond until it returns true or the timeout elapses.
// It reports whether the condition was met.
func Eventually(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}
