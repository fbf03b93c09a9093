// Package cooldown tracks per-(provider, model) 429 backoff windows and
// proactive pacing derived from upstream rate-limit headers. Each pool is
// isolated: a 429 on one model never throttles another, and a pool's
// cooldown only ever moves forward in time.
package cooldown

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/logger"
	"github.com/glmproxy/glmproxy/internal/util"
)

const jitterSpread = 0.15

// Engine owns the model pools. Pools are created lazily on first 429 and
// kept for the process lifetime so stats survive the decay of the count.
type Engine struct {
	pools   *xsync.Map[string, *modelPool]
	cfg     config.PoolCooldownConfig
	pacing  config.ProactivePacingConfig
	logger  *logger.StyledLogger
	nowFunc func() time.Time
}

// modelPool is the cooldown state for one (provider, upstream-model) pair.
type modelPool struct {
	mu sync.Mutex

	provider string
	model    string

	cooldownUntil time.Time
	pacingUntil   time.Time
	lastHitAt     time.Time
	count         int

	lastRateLimitRemaining int64
	lastRateLimitLimit     int64
	lastRateLimitReset     int64
}

func NewEngine(cfg config.PoolCooldownConfig, pacing config.ProactivePacingConfig, log *logger.StyledLogger) *Engine {
	return &Engine{
		pools:   xsync.NewMap[string, *modelPool](),
		cfg:     cfg,
		pacing:  pacing,
		logger:  log,
		nowFunc: time.Now,
	}
}

func poolKey(provider, model string) string {
	return provider + "/" + model
}

func (e *Engine) pool(provider, model string) *modelPool {
	key := poolKey(provider, model)
	if p, ok := e.pools.Load(key); ok {
		return p
	}
	p, _ := e.pools.LoadOrStore(key, &modelPool{
		provider:               provider,
		model:                  model,
		lastRateLimitRemaining: -1,
		lastRateLimitLimit:     -1,
		lastRateLimitReset:     -1,
	})
	return p
}

// RecordHit registers one 429 against the pool and returns the resulting
// cooldown window. Consecutive hits raise the exponent up to MaxPoolCount;
// a quiet period longer than decayMs resets it. The window never shortens.
func (e *Engine) RecordHit(provider, model string) domain.PoolHit {
	now := e.nowFunc()
	p := e.pool(provider, model)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastHitAt.IsZero() && now.Sub(p.lastHitAt) > e.cfg.GetDecay() {
		p.count = 0
	}

	wasBlocked := p.cooldownUntil.After(now)

	p.count++
	if p.count > constants.MaxPoolCount {
		p.count = constants.MaxPoolCount
	}

	cool := util.CalculateCountBackoff(p.count, e.cfg.GetBase(), e.cfg.GetCap())
	cool = time.Duration(float64(cool) * util.JitterFactor(jitterSpread))

	if until := now.Add(cool); until.After(p.cooldownUntil) {
		p.cooldownUntil = until
	}
	p.lastHitAt = now

	if e.logger != nil {
		e.logger.WarnWithModel("Pool rate limited", p.provider+"/"+p.model,
			"count", p.count,
			"cooldown_ms", cool.Milliseconds(),
			"was_blocked", wasBlocked)
	}

	return domain.PoolHit{
		Cooldown:          cool,
		Count:             p.count,
		WasAlreadyBlocked: wasBlocked,
	}
}

// RecordHeaders stores the latest rate-limit header observation and, when
// remaining drops to the pacing threshold, arms a proactive pacing window.
// Pacing scales linearly as remaining approaches zero and never shortens an
// existing cooldown or pacing window.
func (e *Engine) RecordHeaders(provider, model string, headers domain.RateLimitHeaders) {
	p := e.pool(provider, model)
	now := e.nowFunc()

	p.mu.Lock()
	defer p.mu.Unlock()

	if headers.Remaining >= 0 {
		p.lastRateLimitRemaining = headers.Remaining
	}
	if headers.Limit >= 0 {
		p.lastRateLimitLimit = headers.Limit
	}
	if headers.Reset >= 0 {
		p.lastRateLimitReset = headers.Reset
	}

	if !e.pacing.Enabled {
		return
	}

	threshold := e.pacing.RemainingThreshold
	if headers.Remaining < 0 || headers.Remaining > threshold {
		return
	}

	// delay grows as remaining shrinks: threshold hits the minimum slice,
	// zero remaining hits the full pacing delay
	delay := time.Duration(float64(e.pacing.GetPacingDelay()) *
		float64(threshold-headers.Remaining+1) / float64(threshold+1))

	if until := now.Add(delay); until.After(p.pacingUntil) {
		p.pacingUntil = until
	}
}

// RemainingFor returns the time until the pool is selectable again: the
// larger of its cooldown and pacing windows, zero when neither is active.
func (e *Engine) RemainingFor(provider, model string) time.Duration {
	p, ok := e.pools.Load(poolKey(provider, model))
	if !ok {
		return 0
	}
	now := e.nowFunc()

	p.mu.Lock()
	defer p.mu.Unlock()
	return remainingLocked(p, now)
}

func remainingLocked(p *modelPool, now time.Time) time.Duration {
	remaining := p.cooldownUntil.Sub(now)
	if pacing := p.pacingUntil.Sub(now); pacing > remaining {
		remaining = pacing
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AnyRemaining returns the longest active window across all pools.
func (e *Engine) AnyRemaining() time.Duration {
	now := e.nowFunc()
	var max time.Duration
	e.pools.Range(func(_ string, p *modelPool) bool {
		p.mu.Lock()
		if r := remainingLocked(p, now); r > max {
			max = r
		}
		p.mu.Unlock()
		return true
	})
	return max
}

// Snapshot copies every pool's state for the stats endpoint.
func (e *Engine) Snapshot() []domain.PoolSnapshot {
	now := e.nowFunc()
	out := make([]domain.PoolSnapshot, 0, 8)
	e.pools.Range(func(_ string, p *modelPool) bool {
		p.mu.Lock()
		pacing := p.pacingUntil.Sub(now)
		if pacing < 0 {
			pacing = 0
		}
		out = append(out, domain.PoolSnapshot{
			Provider:         p.provider,
			Model:            p.model,
			Remaining:        remainingLocked(p, now),
			PacingRemaining:  pacing,
			Count:            p.count,
			LastHitAt:        p.lastHitAt,
			LastRateLimit:    p.lastRateLimitLimit,
			LastRateLimitRem: p.lastRateLimitRemaining,
			LastRateLimitRst: p.lastRateLimitReset,
		})
		p.mu.Unlock()
		return true
	})
	return out
}
