package keypool

import (
	"time"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// CircuitBreaker guards one credential. All methods assume the key
// manager's lock is held; there is no internal synchronisation.
//
// closed -> open      after failureThreshold consecutive failures
// open   -> halfOpen  once cooldownPeriod has elapsed
// halfOpen            admits a single probe; success closes, failure reopens
type CircuitBreaker struct {
	failureThreshold    int
	cooldownPeriod      time.Duration
	state               domain.CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probing             bool
}

func NewCircuitBreaker(failureThreshold int, cooldownPeriod time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldownPeriod:   cooldownPeriod,
		state:            domain.CircuitClosed,
	}
}

// AllowAcquire ticks the state machine and reports whether an acquire may
// proceed. While halfOpen, only the first caller gets through as the probe.
func (b *CircuitBreaker) AllowAcquire(now time.Time) bool {
	b.tick(now)

	switch b.state {
	case domain.CircuitClosed:
		return true
	case domain.CircuitHalfOpen:
		return !b.probing
	default:
		return false
	}
}

// OnAcquire marks the halfOpen probe as in flight.
func (b *CircuitBreaker) OnAcquire() {
	if b.state == domain.CircuitHalfOpen {
		b.probing = true
	}
}

func (b *CircuitBreaker) RecordSuccess() {
	b.consecutiveFailures = 0
	if b.state == domain.CircuitHalfOpen {
		b.state = domain.CircuitClosed
		b.probing = false
	}
}

// ResolveProbe clears an in-flight halfOpen probe whose outcome neither
// confirms nor condemns the credential (rate limit, downstream abort). The
// breaker stays halfOpen and the next caller may probe again.
func (b *CircuitBreaker) ResolveProbe() {
	if b.state == domain.CircuitHalfOpen {
		b.probing = false
	}
}

func (b *CircuitBreaker) RecordFailure(now time.Time) {
	b.consecutiveFailures++

	if b.state == domain.CircuitHalfOpen {
		// the probe failed; go straight back to open
		b.open(now)
		return
	}
	if b.consecutiveFailures >= b.failureThreshold {
		b.open(now)
	}
}

// Trip opens the breaker immediately, bypassing the threshold. Used for
// auth errors where retrying the same credential cannot help.
func (b *CircuitBreaker) Trip(now time.Time) {
	b.consecutiveFailures = b.failureThreshold
	b.open(now)
}

func (b *CircuitBreaker) open(now time.Time) {
	b.state = domain.CircuitOpen
	b.openedAt = now
	b.probing = false
}

// State ticks and returns the current state.
func (b *CircuitBreaker) State(now time.Time) domain.CircuitState {
	b.tick(now)
	return b.state
}

func (b *CircuitBreaker) ConsecutiveFailures() int {
	return b.consecutiveFailures
}

func (b *CircuitBreaker) tick(now time.Time) {
	if b.state == domain.CircuitOpen && now.Sub(b.openedAt) >= b.cooldownPeriod {
		b.state = domain.CircuitHalfOpen
		b.probing = false
	}
}
