// Package ratelimiter throttles repetitive log output, such as a probe error
// that recurs on every tick while a directory stays unreadable.
package ratelimiter

import (
	"sync"
	"time"
)

// Keyed allows one action per interval for each key and is safe for
// concurrent use.
type Keyed struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed map[string]time.Time
	suppressed  map[string]int
	now         func() time.Time
}

// NewKeyed creates a keyed rate limiter with the specified interval.
func NewKeyed(interval time.Duration) *Keyed {
	return &Keyed{
		interval:    interval,
		lastAllowed: make(map[string]time.Time),
		suppressed:  make(map[string]int),
		now:         time.Now,
	}
}

// Allow checks if an action for key is allowed at this time.
// When allowed it returns the number of actions suppressed since the last
// allowed one, so callers can report them.
func (k *Keyed) Allow(key string) (bool, int) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	last, seen := k.lastAllowed[key]
	if seen && now.Sub(last) < k.interval {
		k.suppressed[key]++
		return false, 0
	}

	k.lastAllowed[key] = now
	n := k.suppressed[key]
	delete(k.suppressed, key)
	return true, n
}

// Reset clears the state of key, allowing its next action immediately.
func (k *Keyed) Reset(key string) {
	k.mu.Lock()
	delete(k.lastAllowed, key)
	delete(k.suppressed, key)
	k.mu.Unlock()
}

// Interval returns the configured rate limit interval.
func (k *Keyed) Interval() time.Duration {
	return k.interval
}

// Limiter provides simple time-based rate limiting for a single action.
type Limiter struct {
	keyed *Keyed
}

// New creates a new rate limiter with the specified interval.
func New(interval time.Duration) *Limiter {
	return &Limiter{keyed: NewKeyed(interval)}
}

// Allow checks if an action is allowed at this time.
// Returns true if allowed, or false with the remaining wait duration.
func (l *Limiter) Allow() (bool, time.Duration) {
	k := l.keyed
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	last, seen := k.lastAllowed[""]
	if seen {
		if since := now.Sub(last); since < k.interval {
			return false, k.interval - since
		}
	}
	k.lastAllowed[""] = now
	return true, 0
}

// Reset clears the limiter state, allowing the next action immediately.
func (l *Limiter) Reset() {
	l.keyed.Reset("")
}

// Interval returns the configured rate limit interval.
func (l *Limiter) Interval() time.Duration {
	return l.keyed.interval
}
