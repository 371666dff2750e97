// Package testing provides utilities for writing tests against the
// simulated signal processor.
package testing

import (
	"runtime"
	"testing"
	"time"
)

// Poll calls cond repeatedly until it returns true.  If the timeout expires
// first the test fails fatally, naming what was waited for.
//
// The device and the CPU side communicate only through the status register,
// so tests observe progress by polling, like the engine itself does.
func Poll(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		runtime.Gosched()
	}
}

// Settled reports whether cond stays true for a little while.  Use it to
// assert that something does not happen, e.g. that a masked interrupt stays
// pending.
func Settled(cond func() bool) bool {
	for range 100 {
		if !cond() {
			return false
		}
		runtime.Gosched()
	}
	return cond()
}
