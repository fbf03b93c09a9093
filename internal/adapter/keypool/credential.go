package keypool

import (
	"time"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

const (
	latencyEWMAAlpha = 0.2
	failureEWMAAlpha = 0.3
	recentRingSize   = 20
)

// credential is the runtime state behind one upstream key. All fields are
// guarded by the manager's mutex; nothing here synchronises itself.
type credential struct {
	spec             domain.CredentialSpec
	maxConcurrency   int
	inFlight         int
	rateLimitedUntil time.Time
	breaker          *CircuitBreaker

	totalRequests uint64
	successes     uint64
	failures      uint64
	lastUsed      time.Time

	latencyEWMA float64 // milliseconds
	failureEWMA float64 // 0..1, recency-weighted failure share

	// recent outcomes ring for error-rate display
	recent     [recentRingSize]bool // true = failure
	recentHead int
	recentLen  int
}

func newCredential(spec domain.CredentialSpec, maxConcurrency, failureThreshold int, breakerCooldown time.Duration) *credential {
	if spec.Weight <= 0 {
		spec.Weight = 1
	}
	return &credential{
		spec:           spec,
		maxConcurrency: maxConcurrency,
		breaker:        NewCircuitBreaker(failureThreshold, breakerCooldown),
	}
}

// canAcquire applies the three gates: concurrency headroom, breaker state,
// and any explicit rate-limit window on this credential.
func (c *credential) canAcquire(now time.Time) bool {
	if c.inFlight >= c.maxConcurrency {
		return false
	}
	if now.Before(c.rateLimitedUntil) {
		return false
	}
	return c.breaker.AllowAcquire(now)
}

func (c *credential) acquire(now time.Time) {
	c.inFlight++
	c.lastUsed = now
	c.breaker.OnAcquire()
}

// release hands the slot back and folds the outcome into the stats and the
// breaker. Rate limits and downstream aborts never count as breaker failures.
func (c *credential) release(outcome domain.Outcome, latency time.Duration, now time.Time) {
	if c.inFlight > 0 {
		c.inFlight--
	}
	c.totalRequests++

	switch {
	case outcome == domain.OutcomeSuccess:
		c.successes++
		c.breaker.RecordSuccess()
		c.pushRecent(false)
		c.failureEWMA *= 1 - failureEWMAAlpha
		if latency > 0 {
			ms := float64(latency.Milliseconds())
			if c.latencyEWMA == 0 {
				c.latencyEWMA = ms
			} else {
				c.latencyEWMA = latencyEWMAAlpha*ms + (1-latencyEWMAAlpha)*c.latencyEWMA
			}
		}
	case outcome == domain.OutcomeAuthError:
		c.failures++
		c.pushRecent(true)
		c.failureEWMA = failureEWMAAlpha + (1-failureEWMAAlpha)*c.failureEWMA
		c.breaker.Trip(now)
	case outcome.IsCredentialFailure():
		c.failures++
		c.pushRecent(true)
		c.failureEWMA = failureEWMAAlpha + (1-failureEWMAAlpha)*c.failureEWMA
		c.breaker.RecordFailure(now)
	default:
		// rate_limited, client_aborted: slot back, no breaker movement,
		// but a halfOpen probe must not stay latched in flight
		c.breaker.ResolveProbe()
	}
}

func (c *credential) pushRecent(failure bool) {
	c.recent[c.recentHead] = failure
	c.recentHead = (c.recentHead + 1) % recentRingSize
	if c.recentLen < recentRingSize {
		c.recentLen++
	}
}

// errorRate is the failure share over the recent outcome ring.
func (c *credential) errorRate() float64 {
	if c.recentLen == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < c.recentLen; i++ {
		if c.recent[i] {
			failures++
		}
	}
	return float64(failures) / float64(c.recentLen)
}

func (c *credential) snapshot(now time.Time) domain.CredentialSnapshot {
	return domain.CredentialSnapshot{
		ID:                  c.spec.ID,
		Provider:            c.spec.Provider,
		Weight:              c.spec.Weight,
		InFlight:            c.inFlight,
		Circuit:             c.breaker.State(now),
		ConsecutiveFailures: c.breaker.ConsecutiveFailures(),
		TotalRequests:       c.totalRequests,
		Successes:           c.successes,
		Failures:            c.failures,
		ErrorRate:           c.errorRate(),
		LatencyEWMA:         c.latencyEWMA,
		LastUsed:            c.lastUsed,
		RateLimitedUntil:    c.rateLimitedUntil,
	}
}

// grant is the value handed to callers; it carries no pointer back into
// pool state so components only ever communicate by ID.
type grant struct {
	id       string
	provider string
	secret   string
}

func (g grant) ID() string       { return g.id }
func (g grant) Provider() string { return g.provider }
func (g grant) Secret() string   { return g.secret }
