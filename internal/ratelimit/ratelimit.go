// Package ratelimit provides a fixed-window rate limiter keyed by operation
// name, used to bound outbound calls (heartbeats, retries) independently of
// the main pipeline.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request timestamps per key over a fixed window.
type Limiter struct {
	mu       sync.Mutex
	requests map[string][]int64
	now      func() time.Time
}

// New creates a limiter.
func New() *Limiter {
	return &Limiter{
		requests: make(map[string][]int64),
		now:      time.Now,
	}
}

// NewWithClock creates a limiter with an injectable clock, for tests.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{
		requests: make(map[string][]int64),
		now:      now,
	}
}

// Allow records an attempt under key and reports whether it fits within
// maxRequests per window. Attempts over the limit are not recorded.
func (l *Limiter) Allow(key string, window time.Duration, maxRequests int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixNano()
	cutoff := now - window.Nanoseconds()

	kept := l.requests[key][:0]
	for _, t := range l.requests[key] {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	l.requests[key] = kept

	if len(kept) >= maxRequests {
		return false
	}

	l.requests[key] = append(l.requests[key], now)
	return true
}

// Count returns the number of attempts recorded for key within the window.
func (l *Limiter) Count(key string, window time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UnixNano() - window.Nanoseconds()
	n := 0
	for _, t := range l.requests[key] {
		if t > cutoff {
			n++
		}
	}
	return n
}
