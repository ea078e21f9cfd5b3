package admin

import (
	"sync"
	"time"
)

// MutationLimiter throttles mutating operator calls with one sliding window
// per operation, so a burst of lobby creations cannot starve session control.
type MutationLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	history map[string][]time.Time
}

// NewMutationLimiter constructs a limiter allowing up to limit calls per
// window for each distinct operation. A nil timeSource means the wall clock.
func NewMutationLimiter(window time.Duration, limit int, timeSource func() time.Time) *MutationLimiter {
	if window <= 0 || limit <= 0 {
		return &MutationLimiter{window: window, limit: limit}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &MutationLimiter{
		window:  window,
		limit:   limit,
		now:     timeSource,
		history: make(map[string][]time.Time),
	}
}

// Allow reports whether the named operation may proceed under its window.
func (l *MutationLimiter) Allow(operation string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	//1.- Drop stamps older than the window before counting what remains.
	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.history[operation][:0]
	for _, ts := range l.history[operation] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.history[operation] = kept
		return false
	}
	l.history[operation] = append(kept, now)
	return true
}
