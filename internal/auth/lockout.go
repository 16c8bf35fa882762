package auth

import (
	"sync"
	"time"
)

// lockoutState tracks one username's consecutive failures. The table is
// process-lifetime, in-memory only: it resets on restart by design.
type lockoutState struct {
	failedAttempts int
	lockedUntil    time.Time
}

// LockoutTracker guards the shared failure counters. Every
// check-or-increment for a username is a single atomic step under the
// mutex; callers never interleave a check with a separate increment.
type LockoutTracker struct {
	mu        sync.Mutex
	states    map[string]*lockoutState
	threshold int
	window    time.Duration
	now       func() time.Time
}

// NewLockoutTracker locks a username for window after threshold
// consecutive failures.
func NewLockoutTracker(threshold int, window time.Duration) *LockoutTracker {
	return &LockoutTracker{
		states:    make(map[string]*lockoutState),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// IsLocked reports whether the username is currently locked out.
func (l *LockoutTracker) IsLocked(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[username]
	if !ok {
		return false
	}
	return st.lockedUntil.After(l.now())
}

// RecordFailure increments the username's consecutive-failure counter and
// engages the lock when the threshold is reached. It returns true when
// this failure locked the account.
func (l *LockoutTracker) RecordFailure(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.states[username]
	if !ok {
		st = &lockoutState{}
		l.states[username] = st
	}
	// An expired lock no longer counts toward the next window.
	if !st.lockedUntil.IsZero() && !st.lockedUntil.After(l.now()) {
		st.failedAttempts = 0
		st.lockedUntil = time.Time{}
	}
	st.failedAttempts++
	if st.failedAttempts >= l.threshold {
		st.lockedUntil = l.now().Add(l.window)
		return true
	}
	return false
}

// Reset clears the username's counters after a successful authentication.
func (l *LockoutTracker) Reset(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, username)
}

// FailedAttempts returns the current consecutive-failure count.
func (l *LockoutTracker) FailedAttempts(username string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.states[username]; ok {
		return st.failedAttempts
	}
	return 0
}
