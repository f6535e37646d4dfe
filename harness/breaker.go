package harness

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota // Fixtures are rendered.
	BreakerOpen                       // Remaining fixtures are skipped.
)

func (s BreakerState) String() string {
	if s == BreakerOpen {
		return "open"
	}
	return "closed"
}

// Breaker stops a run once the rendering backend looks degraded: after
// threshold consecutive infra failures it opens and stays open. There is no
// half-open probe; a degraded GPU context does not recover within a run.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	trippedAt time.Time
	now       func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithBreakerThreshold sets the consecutive failure count that opens the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// NewBreaker creates a breaker that opens after 5 consecutive failures.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{threshold: 5, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether another fixture may be rendered.
func (b *Breaker) Allow() bool {
	return b.State() != BreakerOpen
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// TrippedAt returns when the breaker opened; zero while closed.
func (b *Breaker) TrippedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trippedAt
}

// RecordSuccess resets the consecutive failure count. Content errors count
// as successes here: the page loaded and reported back.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerClosed {
		b.failures = 0
	}
}

// RecordFailure records an infra failure and returns the new count.
func (b *Breaker) RecordFailure() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.openLocked()
	}
	return b.failures
}

// Trip opens the breaker immediately.
func (b *Breaker) Trip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerClosed {
		b.failures = b.threshold
		b.openLocked()
	}
}

// Reset forces the breaker back to closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.trippedAt = time.Time{}
}

// Must be called with mu held.
func (b *Breaker) openLocked() {
	b.state = BreakerOpen
	b.trippedAt = b.now()
}
