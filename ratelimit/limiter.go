// Package ratelimit admits work per client token using a fixed window.
//
// Each token gets `limit` admissions per window. The window starts at the
// token's first admission and restarts on the first admission after it has
// elapsed; there is no sliding or smoothing.
package ratelimit

import (
	"sync"
	"time"

	"mediaconv/errors"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // zero when Allowed
}

// Err returns a *errors.RateLimitExceeded for a denial and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &errors.RateLimitExceeded{RetryAfter: d.RetryAfter}
}

type tokenWindow struct {
	tokensRemaining int
	windowStart     time.Time
}

// Limiter enforces max admissions per token per fixed window.
type Limiter struct {
	limit   int
	window  time.Duration
	mu      sync.Mutex
	tokens  map[string]*tokenWindow
	timeNow func() time.Time // Injectable for testing
}

// New creates a limiter with real time.
func New(limit int, window time.Duration) *Limiter {
	return NewWithClock(limit, window, time.Now)
}

// NewWithClock creates a limiter with an injectable clock (for testing).
// A limit below 1 is raised to 1.
func NewWithClock(limit int, window time.Duration, timeNow func() time.Time) *Limiter {
	if limit < 1 {
		limit = 1
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		tokens:  make(map[string]*tokenWindow),
		timeNow: timeNow,
	}
}

// Admit consumes one admission for token if its window has any left.
func (l *Limiter) Admit(token string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	w, ok := l.tokens[token]
	if !ok {
		l.tokens[token] = &tokenWindow{tokensRemaining: l.limit - 1, windowStart: now}
		return Decision{Allowed: true}
	}

	elapsed := now.Sub(w.windowStart)
	if elapsed >= l.window {
		w.tokensRemaining = l.limit - 1
		w.windowStart = now
		return Decision{Allowed: true}
	}

	if w.tokensRemaining > 0 {
		w.tokensRemaining--
		return Decision{Allowed: true}
	}

	return Decision{RetryAfter: l.window - elapsed}
}

// Remaining reports how many admissions token has left right now.
func (l *Limiter) Remaining(token string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.tokens[token]
	if !ok || l.timeNow().Sub(w.windowStart) >= l.window {
		return l.limit
	}
	return w.tokensRemaining
}

// Sweep forgets tokens whose window has elapsed and returns how many were
// dropped. Forgetting them does not change any future decision.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	removed := 0
	for token, w := range l.tokens {
		if now.Sub(w.windowStart) >= l.window {
			delete(l.tokens, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked tokens.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}
