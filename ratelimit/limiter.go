// Package ratelimit throttles requests per source key with fixed-window
// counters.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type windowEntry struct {
	start    time.Time
	count    int
	lastSeen time.Time
}

// Limiter admits at most a fixed number of requests per window for each
// key. A key's window opens with its first request.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*windowEntry
	limit   int
	window  time.Duration
	idleTTL time.Duration
	now     func() time.Time
}

// New creates a limiter admitting requests per window per key. Idle keys
// are forgotten after twice the window.
func New(requests int, window time.Duration) *Limiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		keys:    make(map[string]*windowEntry),
		limit:   requests,
		window:  window,
		idleTTL: 2 * window,
		now:     time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether a request for key may proceed. When it may not, the
// returned duration is how long until the key's window closes; it never
// exceeds the window. Rejected requests are not counted.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if key == "" {
		key = "unknown"
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.keys[key]
	if !ok || now.Sub(e.start) >= l.window {
		e = &windowEntry{start: now}
		l.keys[key] = e
	}
	e.lastSeen = now

	if e.count < l.limit {
		e.count++
		return true, 0
	}
	return false, e.start.Add(l.window).Sub(now)
}

// RetryAfterSeconds renders a wait as a Retry-After header value: whole
// seconds, rounded up, at least 1 and at most the window.
func (l *Limiter) RetryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if max := int(math.Ceil(l.window.Seconds())); secs > max {
		secs = max
	}
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Sweep forgets keys idle for longer than the idle TTL.
func (l *Limiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.keys {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.keys, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
