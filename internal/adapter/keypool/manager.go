// Package keypool owns the upstream credential set: acquisition with
// weighted scoring, per-credential circuit breakers, and in-flight
// accounting. One mutex guards the whole pool; every operation under it is
// a short score-and-pick or counter update.
package keypool

import (
	"sort"
	"sync"
	"time"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/core/ports"
	"github.com/glmproxy/glmproxy/internal/logger"
)

// Scoring weights. The exact formula matters less than its properties:
// deterministic under identical stats, and a freshly failed credential
// sorts last.
const (
	saturationPenaltyWeight = 0.3
	recentFailurePenalty    = 0.5
	latencyBonusWeight      = 0.05
)

// Manager implements ports.KeyManager.
type Manager struct {
	mu            sync.Mutex
	credentials   []*credential
	byID          map[string]*credential
	totalInFlight int

	maxConcurrencyPerKey int
	maxTotalConcurrency  int
	failureThreshold     int
	breakerCooldown      time.Duration
	defaultProvider      string

	logger  *logger.StyledLogger
	nowFunc func() time.Time
}

var _ ports.KeyManager = (*Manager)(nil)

func NewManager(dispatch config.DispatchConfig, breaker config.CircuitBreakerConfig, log *logger.StyledLogger) *Manager {
	return &Manager{
		byID:                 make(map[string]*credential),
		maxConcurrencyPerKey: dispatch.MaxConcurrencyPerKey,
		maxTotalConcurrency:  dispatch.MaxTotalConcurrency,
		failureThreshold:     breaker.FailureThreshold,
		breakerCooldown:      breaker.GetCooldownPeriod(),
		logger:               log,
		nowFunc:              time.Now,
	}
}

// SetDefaultProvider names the provider whose requests untagged credentials
// may serve. A flat keys list with no providers block is the common
// deployment, and those keys belong to the default pool.
func (m *Manager) SetDefaultProvider(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultProvider = provider
}

// LoadKeys rebuilds the pool from a spec. Runtime state (in-flight counts,
// breaker state, stats) is carried over for credentials that persist; state
// for removed credentials is discarded with them.
func (m *Manager) LoadKeys(spec domain.KeysSpec) {
	flat := spec.Flat
	for provider, list := range spec.ByProvider {
		for _, s := range list {
			if s.Provider == "" {
				s.Provider = provider
			}
			flat = append(flat, s)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]*credential, 0, len(flat))
	nextByID := make(map[string]*credential, len(flat))
	total := 0

	for _, s := range flat {
		if s.Provider == "" {
			s.Provider = constants.DefaultUntaggedProvider
		}
		if existing, ok := m.byID[s.ID]; ok {
			existing.spec = s
			next = append(next, existing)
			nextByID[s.ID] = existing
			total += existing.inFlight
			continue
		}
		c := newCredential(s, m.maxConcurrencyPerKey, m.failureThreshold, m.breakerCooldown)
		next = append(next, c)
		nextByID[s.ID] = c
	}

	m.credentials = next
	m.byID = nextByID
	m.totalInFlight = total

	if m.logger != nil {
		m.logger.InfoWithCount("Loaded credentials", len(next))
	}
}

// AcquireKey selects the best available credential for a provider, or nil
// when the caller must queue. Selection is evaluated atomically: filter,
// score, pick, and increment all happen under one lock hold.
func (m *Manager) AcquireKey(attemptedIDs map[string]struct{}, provider string) ports.CredentialGrant {
	if provider == "" {
		provider = constants.DefaultUntaggedProvider
	}
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.totalInFlight >= m.maxTotalConcurrency {
		return nil
	}

	var best *credential
	var bestScore float64

	for _, c := range m.credentials {
		if !m.servesProvider(c, provider) {
			continue
		}
		if _, attempted := attemptedIDs[c.spec.ID]; attempted {
			continue
		}
		if !c.canAcquire(now) {
			continue
		}

		score := m.score(c)
		if best == nil || score > bestScore || (score == bestScore && c.spec.ID < best.spec.ID) {
			best = c
			bestScore = score
		}
	}

	if best == nil {
		return nil
	}

	best.acquire(now)
	m.totalInFlight++

	return grant{id: best.spec.ID, provider: best.spec.Provider, secret: best.spec.Secret}
}

// servesProvider reports whether a credential may serve requests routed to
// the given provider. Untagged credentials serve the default provider.
func (m *Manager) servesProvider(c *credential, provider string) bool {
	if c.spec.Provider == provider {
		return true
	}
	return c.spec.Provider == constants.DefaultUntaggedProvider &&
		provider == m.defaultProvider && m.defaultProvider != ""
}

func (m *Manager) score(c *credential) float64 {
	score := c.spec.Weight * (1 - c.errorRate())
	score -= saturationPenaltyWeight * float64(c.inFlight) / float64(c.maxConcurrency)
	score -= recentFailurePenalty * c.failureEWMA
	if c.latencyEWMA > 0 {
		score += latencyBonusWeight / (1 + c.latencyEWMA/1000)
	}
	return score
}

func (m *Manager) RecordSuccess(g ports.CredentialGrant, latency time.Duration) {
	m.release(g, domain.OutcomeSuccess, latency)
}

func (m *Manager) RecordFailure(g ports.CredentialGrant, kind domain.Outcome) {
	m.release(g, kind, 0)
}

// RecordRateLimit releases the slot and parks the credential until the
// upstream's retry-after elapses. Not a breaker failure.
func (m *Manager) RecordRateLimit(g ports.CredentialGrant, retryAfter time.Duration) {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[g.ID()]
	if !ok {
		return
	}
	c.release(domain.OutcomeRateLimited, 0, now)
	if m.totalInFlight > 0 {
		m.totalInFlight--
	}
	if retryAfter > 0 {
		if until := now.Add(retryAfter); until.After(c.rateLimitedUntil) {
			c.rateLimitedUntil = until
		}
	}
}

func (m *Manager) release(g ports.CredentialGrant, outcome domain.Outcome, latency time.Duration) {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[g.ID()]
	if !ok {
		// credential was removed by a reload while the request was in flight
		if m.totalInFlight > 0 {
			m.totalInFlight--
		}
		return
	}

	before := c.breaker.State(now)
	c.release(outcome, latency, now)
	if m.totalInFlight > 0 {
		m.totalInFlight--
	}

	if m.logger != nil {
		if after := c.breaker.State(now); after != before {
			m.logger.InfoCircuitState("Circuit breaker", c.spec.ID, after,
				"outcome", string(outcome),
				"consecutive_failures", c.breaker.ConsecutiveFailures())
		}
	}
}

// ProviderHealthStats aggregates per-provider totals for the stats endpoint.
func (m *Manager) ProviderHealthStats() map[string]domain.ProviderHealth {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]domain.ProviderHealth)
	errSums := make(map[string]float64)

	for _, c := range m.credentials {
		h := out[c.spec.Provider]
		h.Total++
		h.InFlight += c.inFlight
		if c.canAcquire(now) {
			h.Available++
		}
		if c.breaker.State(now) == domain.CircuitOpen {
			h.OpenCircuits++
		}
		errSums[c.spec.Provider] += c.errorRate()
		out[c.spec.Provider] = h
	}

	for provider, h := range out {
		if h.Total > 0 {
			h.ErrorRate = errSums[provider] / float64(h.Total)
			out[provider] = h
		}
	}
	return out
}

// Snapshot copies every credential's state, sorted by ID for stable output.
func (m *Manager) Snapshot() []domain.CredentialSnapshot {
	now := m.nowFunc()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.CredentialSnapshot, 0, len(m.credentials))
	for _, c := range m.credentials {
		out = append(out, c.snapshot(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalInFlight is exposed for tests and the stats endpoint.
func (m *Manager) TotalInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalInFlight
}
