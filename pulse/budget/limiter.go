package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/teranos/dialpulse/errors"
)

// Limiter enforces max placements per time window using sliding window algorithm.
// The dispatcher sizes it to the local CPS over a one second window so a burst
// after a budget change cannot exceed the instance's share.
type Limiter struct {
	maxCalls  int
	window    time.Duration
	mu        sync.Mutex
	callTimes []time.Time
	timeNow   func() time.Time // Injectable for testing
}

// NewLimiter creates a rate limiter with real time
func NewLimiter(maxCalls int, window time.Duration) *Limiter {
	return NewLimiterWithClock(maxCalls, window, time.Now)
}

// NewLimiterWithClock creates a rate limiter with injectable clock (for testing)
func NewLimiterWithClock(maxCalls int, window time.Duration, timeNow func() time.Time) *Limiter {
	if maxCalls < 0 {
		maxCalls = 0
	}
	return &Limiter{
		maxCalls:  maxCalls,
		window:    window,
		callTimes: make([]time.Time, 0, maxCalls),
		timeNow:   timeNow,
	}
}

// Allow checks if a call is allowed under rate limits
// Returns error if rate limit exceeded
func (r *Limiter) Allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeNow()
	r.removeExpiredCalls(now)

	if len(r.callTimes) >= r.maxCalls {
		err := errors.Newf("rate limit exceeded: %d calls per %s (limit: %d)",
			len(r.callTimes), r.window, r.maxCalls)
		err = errors.WithDetail(err, fmt.Sprintf("Current calls in window: %d", len(r.callTimes)))
		err = errors.WithDetail(err, fmt.Sprintf("Max calls per window: %d", r.maxCalls))
		return err
	}

	r.callTimes = append(r.callTimes, now)
	return nil
}

// SetMax changes the limit. Calls already in the window still count.
func (r *Limiter) SetMax(maxCalls int) {
	if maxCalls < 0 {
		maxCalls = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxCalls = maxCalls
}

// removeExpiredCalls removes call timestamps that are outside the sliding window
// Must be called with lock held
func (r *Limiter) removeExpiredCalls(now time.Time) {
	cutoff := now.Add(-r.window)

	// Timestamps are ordered
	expired := 0
	for _, callTime := range r.callTimes {
		if !callTime.After(cutoff) {
			expired++
		} else {
			break
		}
	}

	r.callTimes = r.callTimes[expired:]
}
