package sync

import (
	"sync"
	"time"
)

// SlidingLimiter permits a call only while the number of recorded calls in
// the trailing window stays below limit times safetyMargin, leaving headroom
// under the provider's actual quota.
type SlidingLimiter struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	safetyMargin float64
	calls        []time.Time
	now          func() time.Time
}

// NewSlidingLimiter creates a limiter. A safetyMargin outside (0, 1] is
// treated as 1.
func NewSlidingLimiter(limit int, window time.Duration, safetyMargin float64) *SlidingLimiter {
	if safetyMargin <= 0 || safetyMargin > 1 {
		safetyMargin = 1
	}
	return &SlidingLimiter{
		limit:        limit,
		window:       window,
		safetyMargin: safetyMargin,
		now:          time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (l *SlidingLimiter) SetClock(now func() time.Time) { l.now = now }

func (l *SlidingLimiter) effectiveLimit() int {
	return int(float64(l.limit) * l.safetyMargin)
}

// prune drops records that have fallen out of the trailing window.
// Caller holds l.mu.
func (l *SlidingLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// Allow records and permits one call if budget remains, else denies without
// recording.
func (l *SlidingLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.calls) >= l.effectiveLimit() {
		return false
	}
	l.calls = append(l.calls, now)
	return true
}

// InWindow returns the number of calls currently inside the window.
func (l *SlidingLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.calls)
}
