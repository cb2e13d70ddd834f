package worker

import (
	"sync"
	"time"
)

// CanProceed reports whether a completion call is allowed given the time of
// the previous one. A zero lastCall always allows.
func CanProceed(lastCall, now time.Time, minGap time.Duration) bool {
	if lastCall.IsZero() {
		return true
	}
	return now.Sub(lastCall) >= minGap
}

// Limiter enforces a single global minimum gap between completion calls
// across all users. The timestamp is set at acquire time, before the call is
// made, so a slow or failing call still counts against the gap.
type Limiter struct {
	mu       sync.Mutex
	minGap   time.Duration
	lastCall time.Time
}

func NewLimiter(minGap time.Duration) *Limiter {
	return &Limiter{minGap: minGap}
}

// TryAcquire consumes a slot if the gap has elapsed. Check and mark are one
// operation; a true return means the caller owns the next call.
func (l *Limiter) TryAcquire(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !CanProceed(l.lastCall, now, l.minGap) {
		return false
	}
	l.lastCall = now
	return true
}

// LastCall returns the time of the most recent acquired slot, zero if none.
func (l *Limiter) LastCall() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCall
}
