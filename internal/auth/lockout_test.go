package auth

import (
	"testing"
	"time"
)

// fakeClock drives a LockoutTracker through time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(threshold int, window time.Duration) (*LockoutTracker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	tr := NewLockoutTracker(threshold, window)
	tr.now = clk.now
	return tr, clk
}

func TestLockoutThreshold(t *testing.T) {
	tr, _ := newTestTracker(5, 5*time.Minute)

	for i := 0; i < 4; i++ {
		if locked := tr.RecordFailure("alice"); locked {
			t.Fatalf("locked after %d failures", i+1)
		}
		if tr.IsLocked("alice") {
			t.Fatalf("IsLocked true after %d failures", i+1)
		}
	}
	if locked := tr.RecordFailure("alice"); !locked {
		t.Fatalf("5th failure did not lock")
	}
	if !tr.IsLocked("alice") {
		t.Fatalf("IsLocked false after lock engaged")
	}
}

func TestLockoutPerUsername(t *testing.T) {
	tr, _ := newTestTracker(5, 5*time.Minute)
	for i := 0; i < 5; i++ {
		tr.RecordFailure("alice")
	}
	if tr.IsLocked("bob") {
		t.Fatalf("lock leaked across usernames")
	}
}

func TestLockoutExpires(t *testing.T) {
	tr, clk := newTestTracker(5, 5*time.Minute)
	for i := 0; i < 5; i++ {
		tr.RecordFailure("alice")
	}
	if !tr.IsLocked("alice") {
		t.Fatalf("not locked")
	}

	clk.advance(5*time.Minute + time.Second)
	if tr.IsLocked("alice") {
		t.Fatalf("still locked after window elapsed")
	}

	// The expired lock must not shorten the next window.
	if locked := tr.RecordFailure("alice"); locked {
		t.Fatalf("single failure after expiry re-locked immediately")
	}
	if got := tr.FailedAttempts("alice"); got != 1 {
		t.Fatalf("failed attempts after expiry = %d, want 1", got)
	}
}

func TestLockoutReset(t *testing.T) {
	tr, _ := newTestTracker(5, 5*time.Minute)
	tr.RecordFailure("alice")
	tr.RecordFailure("alice")
	tr.Reset("alice")
	if got := tr.FailedAttempts("alice"); got != 0 {
		t.Fatalf("failed attempts after reset = %d", got)
	}
}
