package router

import (
	"sort"
	"sync"
	"time"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// modelCooldowns tracks per-upstream-model backoff windows so a failover
// never lands on a model that just returned 429. Distinct from the pool
// cooldown engine, which keys on (provider, model) and paces selection;
// this one only gates the router's candidate lists.
type modelCooldowns struct {
	mu      sync.Mutex
	entries map[string]*cooldownEntry
	nowFunc func() time.Time
}

type cooldownEntry struct {
	until         time.Time
	lastHit       time.Time
	count         int
	burstDampened bool
}

func newModelCooldowns() *modelCooldowns {
	return &modelCooldowns{
		entries: make(map[string]*cooldownEntry),
		nowFunc: time.Now,
	}
}

// recordHit applies one backoff step. Hits that land while the model is
// already cooling are burst-dampened: a swarm of concurrent 429s registers
// as a single step, not one per in-flight request.
func (mc *modelCooldowns) recordHit(model string, cfg config.RouterCooldownConfig, opts domain.ModelCooldownOpts) bool {
	now := mc.nowFunc()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[model]
	if !ok {
		if cfg.MaxCooldownEntries > 0 && len(mc.entries) >= cfg.MaxCooldownEntries {
			mc.evictLocked(now)
		}
		e = &cooldownEntry{}
		mc.entries[model] = e
	}

	decay := time.Duration(cfg.DecayMs) * time.Millisecond
	if decay > 0 && !e.lastHit.IsZero() && now.Sub(e.lastHit) >= decay {
		e.count = 0
	}

	dampened := opts.BurstDampened || now.Before(e.until)
	if !dampened {
		e.count++
	} else if e.count == 0 {
		e.count = 1
	}

	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(cfg.DefaultMs)
	for i := 1; i < e.count; i++ {
		d *= mult
	}
	if max := float64(cfg.MaxMs); cfg.MaxMs > 0 && d > max {
		d = max
	}

	if until := now.Add(time.Duration(d) * time.Millisecond); until.After(e.until) {
		e.until = until
	}
	e.lastHit = now
	e.burstDampened = dampened
	return dampened
}

// evictLocked drops one expired entry, or the one closest to expiry when
// nothing has expired yet.
func (mc *modelCooldowns) evictLocked(now time.Time) {
	var victim string
	var victimUntil time.Time
	for model, e := range mc.entries {
		if !now.Before(e.until) {
			delete(mc.entries, model)
			return
		}
		if victim == "" || e.until.Before(victimUntil) {
			victim = model
			victimUntil = e.until
		}
	}
	if victim != "" {
		delete(mc.entries, victim)
	}
}

func (mc *modelCooldowns) remaining(model string) time.Duration {
	now := mc.nowFunc()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.entries[model]
	if !ok || !now.Before(e.until) {
		return 0
	}
	return e.until.Sub(now)
}

// views returns only actively cooling models, sorted for stable output.
func (mc *modelCooldowns) views() []domain.ModelCooldownView {
	now := mc.nowFunc()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	out := make([]domain.ModelCooldownView, 0, len(mc.entries))
	for model, e := range mc.entries {
		if !now.Before(e.until) {
			continue
		}
		out = append(out, domain.ModelCooldownView{
			Model:         model,
			Remaining:     e.until.Sub(now),
			Count:         e.count,
			BurstDampened: e.burstDampened,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func (mc *modelCooldowns) activeCount() int {
	now := mc.nowFunc()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	n := 0
	for _, e := range mc.entries {
		if now.Before(e.until) {
			n++
		}
	}
	return n
}

func (mc *modelCooldowns) reset() {
	mc.mu.Lock()
	mc.entries = make(map[string]*cooldownEntry)
	mc.mu.Unlock()
}
