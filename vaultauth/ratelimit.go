package vaultauth

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles unlock attempts per (user, vault, source) tuple to
// blunt online guessing. Each tuple gets a token bucket holding one token
// per allowed attempt in the window; failed attempts drain it, a successful
// unlock resets it. Idle entries are reclaimed on access.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	entries map[string]*limiterEntry
	now     func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows `attempts` failures per `window` for each tuple.
// Entries unused for idleTTL are dropped during normal operation.
func NewRateLimiter(attempts int, window, idleTTL time.Duration) *RateLimiter {
	if attempts < 1 {
		attempts = 1
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RateLimiter{
		limit:   rate.Every(window / time.Duration(attempts)),
		burst:   attempts,
		idleTTL: idleTTL,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Check reports whether another attempt is currently permitted, without
// consuming the attempt. When blocked, retryAfter hints how long until one
// attempt becomes available again.
func (l *RateLimiter) Check(userID, vaultID, source string) (retryAfter time.Duration, allowed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entry(limiterKey(userID, vaultID, source))
	tokens := e.lim.TokensAt(l.now())
	if tokens >= 1 {
		return 0, true
	}
	need := 1 - tokens
	retryAfter = time.Duration(need / float64(l.limit) * float64(time.Second))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return retryAfter, false
}

// RecordFailure consumes one attempt for the tuple.
func (l *RateLimiter) RecordFailure(userID, vaultID, source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entry(limiterKey(userID, vaultID, source)).lim.AllowN(l.now(), 1)
}

// Reset clears the failure state for the tuple after a successful unlock.
func (l *RateLimiter) Reset(userID, vaultID, source string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, limiterKey(userID, vaultID, source))
}

// entry returns the bucket for key, creating it if needed and sweeping idle
// entries while the lock is held. Caller must hold l.mu.
func (l *RateLimiter) entry(key string) *limiterEntry {
	now := l.now()
	e := l.entries[key]
	if e == nil {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
		l.entries[key] = e
	}
	e.lastSeen = now

	if l.idleTTL > 0 {
		for k, v := range l.entries {
			if now.Sub(v.lastSeen) > l.idleTTL {
				delete(l.entries, k)
			}
		}
	}
	return e
}

func limiterKey(userID, vaultID, source string) string {
	return strings.Join([]string{userID, vaultID, source}, "\x00")
}
