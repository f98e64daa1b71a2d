// Package policy decides whether a failed generation attempt is retried,
// downgraded, or aborted, and enforces the per-user attempt budget.
package policy

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Clock supplies the current time; injectable so tests can run on a fake.
type Clock func() time.Time

// RateLimiter is a per-user sliding-window attempt counter. State lives in
// process memory only; callers must not assume persistence across restarts.
// Safe for concurrent use. Entry count is capped with oldest-first eviction
// so sustained load cannot grow the map without bound.
type RateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxAttempts int
	maxEntries  int
	clock       Clock
	entries     map[string]*rateEntry
}

type rateEntry struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter creates a limiter allowing maxAttempts per window per
// user, holding at most maxEntries users. A nil clock uses time.Now.
func NewRateLimiter(maxAttempts int, window time.Duration, maxEntries int, clock Clock) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		window:      window,
		maxAttempts: maxAttempts,
		maxEntries:  maxEntries,
		clock:       clock,
		entries:     make(map[string]*rateEntry),
	}
}

// Record counts one attempt for the user, starting a fresh window if the
// previous one has elapsed.
func (r *RateLimiter) Record(userID string) {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[userID] = &rateEntry{windowStart: now, count: 1}
		r.evictLocked()
		return
	}
	e.count++
}

// IsLimited reports whether the user has exhausted the window's attempt
// budget. Expired entries are deleted lazily on access.
func (r *RateLimiter) IsLimited(userID string) bool {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	if now.Sub(e.windowStart) >= r.window {
		delete(r.entries, userID)
		return false
	}
	return e.count >= r.maxAttempts
}

// evictLocked drops oldest-window entries while over the cap.
// Caller holds the mutex.
func (r *RateLimiter) evictLocked() {
	for len(r.entries) > r.maxEntries {
		var oldestKey string
		var oldestStart time.Time
		first := true
		for k, e := range r.entries {
			if first || e.windowStart.Before(oldestStart) {
				oldestKey = k
				oldestStart = e.windowStart
				first = false
			}
		}
		delete(r.entries, oldestKey)
		log.Debug().Str("user_id", oldestKey).Msg("Rate limit entry evicted at capacity")
	}
}
