// Package router converts an incoming request into a route decision: which
// upstream model to call, on which provider, and what to fall back to. It
// owns the per-model cooldown table and the routing counters.
package router

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/core/ports"
	"github.com/glmproxy/glmproxy/internal/logger"
)

// Router implements ports.ModelRouter. The config block is swapped wholesale
// on admin edits; selection takes a read lock and never mutates it.
type Router struct {
	mu  sync.RWMutex
	cfg config.ModelRoutingConfig

	resolver  ports.ProviderRegistry
	cooldowns *modelCooldowns
	logger    *logger.StyledLogger

	startedAt time.Time
	nowFunc   func() time.Time

	statsMu            sync.Mutex
	byTier             map[domain.Tier]uint64
	bySource           map[domain.RouteSource]uint64
	failoverTotal      uint64
	failoverWarmup     uint64
	burstDampenedTotal uint64
}

var _ ports.ModelRouter = (*Router)(nil)

func New(cfg config.ModelRoutingConfig, resolver ports.ProviderRegistry, log *logger.StyledLogger) *Router {
	return &Router{
		cfg:       cfg,
		resolver:  resolver,
		cooldowns: newModelCooldowns(),
		logger:    log,
		startedAt: time.Now(),
		nowFunc:   time.Now,
		byTier:    make(map[domain.Tier]uint64),
		bySource:  make(map[domain.RouteSource]uint64),
	}
}

// SelectModel runs the classification pipeline: saved overrides, then rules,
// then the optional classifier, then the tier's candidate list with cooldown
// and attempted-model filtering.
func (r *Router) SelectModel(job *domain.Job, attemptedModels map[string]struct{}) (*domain.RouteDecision, error) {
	return r.route(job, attemptedModels, true)
}

// Simulate routes a synthetic request without touching the counters. Used by
// the admin simulate/test/explain endpoints.
func (r *Router) Simulate(model string, features domain.Features) (*domain.RouteDecision, error) {
	job := &domain.Job{IncomingModel: model, Features: features}
	return r.route(job, nil, false)
}

func (r *Router) route(job *domain.Job, attempted map[string]struct{}, record bool) (*domain.RouteDecision, error) {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	if !cfg.Enabled {
		return r.passthrough(job, cfg, record)
	}

	// 1. saved overrides, exact match first then the wildcard
	if target, ok := cfg.Overrides[job.IncomingModel]; ok {
		return r.fromOverride(job, attempted, cfg, target, job.IncomingModel, record)
	}
	if target, ok := cfg.Overrides["*"]; ok {
		return r.fromOverride(job, attempted, cfg, target, "*", record)
	}

	// 2. ordered rules, first match wins
	tier := domain.TierMedium
	source := domain.RouteSourceDefault
	reason := "no rule matched; defaulted to medium"
	for i, rule := range cfg.Rules {
		if ruleMatches(rule.Match, job) {
			tier = domain.Tier(rule.Tier)
			source = domain.RouteSourceRule
			reason = fmt.Sprintf("rule %d matched", i)
			break
		}
	}

	// 3. classifier, only where the tier's policy allows it
	if source == domain.RouteSourceRule && cfg.Classifier.Enabled {
		if tc, ok := cfg.Tiers[string(tier)]; ok && tc.ClientModelPolicy == "classify" {
			refined := classifyTier(tier, job.Features)
			if cfg.Classifier.Shadow {
				if refined != tier && r.logger != nil {
					r.logger.Debug("Shadow classifier disagreed",
						"rule_tier", string(tier), "classifier_tier", string(refined), "model", job.IncomingModel)
				}
			} else if refined != tier {
				tier = refined
				source = domain.RouteSourceClassifier
				reason = fmt.Sprintf("classifier refined tier to %s", tier)
			}
		}
	}

	tc, ok := cfg.Tiers[string(tier)]
	if !ok || len(tc.Models) == 0 {
		return nil, domain.ErrNoModelsAvailable
	}

	decision, err := r.pickCandidate(tc.Models, attempted)
	if err != nil {
		return nil, err
	}
	decision.Tier = tier
	decision.Source = source
	decision.Reason = reason

	if err := r.resolveProvider(decision); err != nil {
		return nil, err
	}
	if record {
		r.recordDecision(decision, attempted)
	}
	return decision, nil
}

// passthrough handles routing-disabled mode: the incoming model goes through
// the provider mapping unchanged.
func (r *Router) passthrough(job *domain.Job, cfg config.ModelRoutingConfig, record bool) (*domain.RouteDecision, error) {
	model := job.IncomingModel
	if model == "" {
		model = cfg.DefaultModel
	}
	decision := &domain.RouteDecision{
		SelectedModel: model,
		Source:        domain.RouteSourceDefault,
		Reason:        "routing disabled; passthrough",
	}
	if err := r.resolveProvider(decision); err != nil {
		return nil, err
	}
	if record {
		r.recordDecision(decision, nil)
	}
	return decision, nil
}

func (r *Router) fromOverride(job *domain.Job, attempted map[string]struct{}, cfg config.ModelRoutingConfig, target, key string, record bool) (*domain.RouteDecision, error) {
	decision, err := r.pickCandidate([]string{target}, attempted)
	if err != nil {
		return nil, err
	}
	decision.Source = domain.RouteSourceSavedOverride
	decision.Reason = fmt.Sprintf("override %q", key)

	if err := r.resolveProvider(decision); err != nil {
		return nil, err
	}
	if record {
		r.recordDecision(decision, attempted)
	}
	return decision, nil
}

// pickCandidate walks the ordered list and selects the first model that is
// neither attempted nor cooling. The remaining unattempted models become the
// fallback chain regardless of their cooldown state, since they may have
// recovered by the time a fallback fires.
func (r *Router) pickCandidate(models []string, attempted map[string]struct{}) (*domain.RouteDecision, error) {
	var selected string
	var fallback []string
	var cooldownReasons []string

	for _, m := range models {
		if _, seen := attempted[m]; seen {
			continue
		}
		if selected == "" {
			if remaining := r.cooldowns.remaining(m); remaining > 0 {
				cooldownReasons = append(cooldownReasons,
					fmt.Sprintf("%s cooling for %s", m, remaining.Round(time.Millisecond)))
				fallback = append(fallback, m)
				continue
			}
			selected = m
			continue
		}
		fallback = append(fallback, m)
	}

	if selected == "" {
		// every candidate is attempted or cooling; take the first cooling one
		// if any survives the attempted filter, otherwise give up
		if len(fallback) > 0 {
			selected = fallback[0]
			fallback = fallback[1:]
		} else {
			return nil, domain.ErrNoModelsAvailable
		}
	}

	return &domain.RouteDecision{
		SelectedModel:     selected,
		FallbackRemaining: fallback,
		CooldownReasons:   cooldownReasons,
	}, nil
}

// resolveProvider maps the selected upstream model to a provider. Tier
// models usually fall through to the default provider; an explicit mapping
// to an unconfigured provider is a hard error the caller surfaces as 503.
func (r *Router) resolveProvider(decision *domain.RouteDecision) error {
	if r.resolver == nil {
		return nil
	}
	res := r.resolver.ResolveProviderForModel(decision.SelectedModel)
	if res == nil {
		return domain.ErrProviderNotConfigured
	}
	decision.Provider = res.ProviderName
	decision.SelectedModel = res.TargetModel
	return nil
}

func (r *Router) recordDecision(decision *domain.RouteDecision, attempted map[string]struct{}) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	if domain.ValidTier(decision.Tier) {
		r.byTier[decision.Tier]++
	}
	r.bySource[decision.Source]++

	if len(attempted) > 0 {
		r.failoverTotal++
		if r.nowFunc().Sub(r.startedAt) < r.warmupDuration() {
			r.failoverWarmup++
		}
	}
}

func (r *Router) warmupDuration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Failover.GetWarmupDuration()
}

// RecordModelCooldown applies one backoff step to a model after a 429.
func (r *Router) RecordModelCooldown(model string, opts domain.ModelCooldownOpts) {
	r.mu.RLock()
	cfg := r.cfg.Cooldown
	r.mu.RUnlock()

	dampened := r.cooldowns.recordHit(model, cfg, opts)
	if dampened {
		r.statsMu.Lock()
		r.burstDampenedTotal++
		r.statsMu.Unlock()
	}

	if r.logger != nil {
		if dampened {
			r.logger.Debug("Model cooldown hit dampened", "model", model)
		} else {
			r.logger.WarnWithModel("Cooling down model", model)
		}
	}
}

func (r *Router) Cooldowns() []domain.ModelCooldownView {
	return r.cooldowns.views()
}

func (r *Router) ActiveCooldownCount() int {
	return r.cooldowns.activeCount()
}

func (r *Router) ResetCooldowns() {
	r.cooldowns.reset()
}

func (r *Router) Stats() domain.RouterStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	byTier := make(map[domain.Tier]uint64, len(r.byTier))
	for k, v := range r.byTier {
		byTier[k] = v
	}
	bySource := make(map[domain.RouteSource]uint64, len(r.bySource))
	for k, v := range r.bySource {
		bySource[k] = v
	}
	return domain.RouterStats{
		ByTier:             byTier,
		BySource:           bySource,
		FailoverTotal:      r.failoverTotal,
		FailoverWarmup:     r.failoverWarmup,
		BurstDampenedTotal: r.burstDampenedTotal,
	}
}

func (r *Router) MaxModelSwitches() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Failover.MaxModelSwitchesPerRequest
}

// Config returns a copy of the active routing block for the admin GET.
func (r *Router) Config() config.ModelRoutingConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg := r.cfg
	cfg.Overrides = copyStringMap(r.cfg.Overrides)
	return cfg
}

// UpdateConfig validates and swaps in a new routing block, persisting it
// when the config asks for that. Returns the validation warnings.
func (r *Router) UpdateConfig(cfg config.ModelRoutingConfig) ([]string, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]string{}
	}

	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("Model routing config updated",
			"enabled", cfg.Enabled, "rules", len(cfg.Rules), "overrides", len(cfg.Overrides))
	}
	return warnings, r.persist()
}

// ReloadConfig swaps in an externally edited routing block without writing
// it back, so a file-watch reload cannot ping-pong with persistence.
func (r *Router) ReloadConfig(cfg config.ModelRoutingConfig) ([]string, error) {
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if cfg.Overrides == nil {
		cfg.Overrides = map[string]string{}
	}

	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("Model routing config reloaded from disk", "rules", len(cfg.Rules))
	}
	return warnings, nil
}

// SetOverride pins an incoming model (or "*") to an upstream model.
func (r *Router) SetOverride(incoming, target string) error {
	if strings.TrimSpace(incoming) == "" || strings.TrimSpace(target) == "" {
		return fmt.Errorf("override requires both an incoming and a target model")
	}

	r.mu.Lock()
	next := copyStringMap(r.cfg.Overrides)
	next[incoming] = target
	r.cfg.Overrides = next
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.InfoWithModel("Saved routing override for", incoming, "target", target)
	}
	return r.persist()
}

// DeleteOverride removes a pin; deleting an absent key is not an error.
func (r *Router) DeleteOverride(incoming string) error {
	r.mu.Lock()
	next := copyStringMap(r.cfg.Overrides)
	delete(next, incoming)
	r.cfg.Overrides = next
	r.mu.Unlock()
	return r.persist()
}

func (r *Router) OverrideCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cfg.Overrides)
}

func (r *Router) persist() error {
	r.mu.RLock()
	cfg := r.cfg
	persistTo := ""
	if cfg.PersistConfigEdits && cfg.ConfigFile != "" {
		persistTo = cfg.ConfigFile
	}
	r.mu.RUnlock()

	if persistTo == "" {
		return nil
	}
	if err := config.SaveModelRouting(persistTo, &cfg); err != nil {
		if r.logger != nil {
			r.logger.Error("Failed to persist routing config", "path", persistTo, "error", err)
		}
		return err
	}
	return nil
}

func ruleMatches(m config.MatchConfig, job *domain.Job) bool {
	if m.Model != "" && m.Model != "*" {
		matched, err := path.Match(m.Model, job.IncomingModel)
		if err != nil || !matched {
			return false
		}
	}
	f := job.Features
	if m.HasTools != nil && *m.HasTools != f.HasTools {
		return false
	}
	if m.HasVision != nil && *m.HasVision != f.HasVision {
		return false
	}
	if m.MaxTokensGte != nil && f.MaxTokens < *m.MaxTokensGte {
		return false
	}
	if m.MessageCountGte != nil && f.MessageCount < *m.MessageCountGte {
		return false
	}
	if m.SystemLengthGte != nil && f.SystemLength < *m.SystemLengthGte {
		return false
	}
	return true
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
