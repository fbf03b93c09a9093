package router

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

func testConfig() config.ModelRoutingConfig {
	cfg := config.DefaultModelRoutingConfig()
	cfg.PersistConfigEdits = false
	return cfg
}

func newTestRouter(cfg config.ModelRoutingConfig) *Router {
	return New(cfg, nil, nil)
}

func jobFor(model string, f domain.Features) *domain.Job {
	return &domain.Job{IncomingModel: model, Features: f, AttemptedModels: map[string]struct{}{}}
}

func TestRuleGlobRouting(t *testing.T) {
	r := newTestRouter(testConfig())

	d, err := r.SelectModel(jobFor("claude-haiku-3", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierLight, d.Tier)
	assert.Equal(t, "glm-4.5-air", d.SelectedModel)
	assert.Equal(t, domain.RouteSourceRule, d.Source)
	assert.Equal(t, []string{"glm-4-flash"}, d.FallbackRemaining)

	d, err = r.SelectModel(jobFor("claude-opus-4", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierHeavy, d.Tier)
	assert.Equal(t, "glm-4.6", d.SelectedModel)
}

func TestCatchAllRuleRoutesMedium(t *testing.T) {
	r := newTestRouter(testConfig())

	d, err := r.SelectModel(jobFor("some-unknown-model", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierMedium, d.Tier)
	assert.Equal(t, "glm-4.5", d.SelectedModel)
	assert.Equal(t, domain.RouteSourceRule, d.Source)
}

func TestVisionFeatureRoutesHeavy(t *testing.T) {
	r := newTestRouter(testConfig())

	d, err := r.SelectModel(jobFor("claude-haiku-3", domain.Features{HasVision: true}), nil)
	require.NoError(t, err)
	// haiku glob wins first; vision only routes heavy when no earlier rule matches
	assert.Equal(t, domain.TierLight, d.Tier)

	d, err = r.SelectModel(jobFor("claude-sonnet-4", domain.Features{HasVision: true}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierHeavy, d.Tier)
}

func TestSavedOverrideWinsOverRules(t *testing.T) {
	cfg := testConfig()
	cfg.Overrides = map[string]string{"claude-haiku-3": "glm-4.6"}
	r := newTestRouter(cfg)

	d, err := r.SelectModel(jobFor("claude-haiku-3", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteSourceSavedOverride, d.Source)
	assert.Equal(t, "glm-4.6", d.SelectedModel)
}

func TestWildcardOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Overrides = map[string]string{"*": "glm-4.5"}
	r := newTestRouter(cfg)

	d, err := r.SelectModel(jobFor("anything-at-all", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteSourceSavedOverride, d.Source)
	assert.Equal(t, "glm-4.5", d.SelectedModel)
}

func TestCooldownSkipsToNextCandidate(t *testing.T) {
	r := newTestRouter(testConfig())
	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})

	d, err := r.SelectModel(jobFor("some-unknown-model", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "glm-4.5-air", d.SelectedModel)
	require.Len(t, d.CooldownReasons, 1)
	assert.Contains(t, d.CooldownReasons[0], "glm-4.5")
	assert.Contains(t, d.FallbackRemaining, "glm-4.5")
}

func TestAttemptedModelsExcluded(t *testing.T) {
	r := newTestRouter(testConfig())

	attempted := map[string]struct{}{"glm-4.5": {}}
	d, err := r.SelectModel(jobFor("some-unknown-model", domain.Features{}), attempted)
	require.NoError(t, err)
	assert.Equal(t, "glm-4.5-air", d.SelectedModel)

	attempted["glm-4.5-air"] = struct{}{}
	_, err = r.SelectModel(jobFor("some-unknown-model", domain.Features{}), attempted)
	assert.ErrorIs(t, err, domain.ErrNoModelsAvailable)
}

func TestAllCandidatesCoolingPicksFirstAnyway(t *testing.T) {
	r := newTestRouter(testConfig())
	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
	r.RecordModelCooldown("glm-4.5-air", domain.ModelCooldownOpts{})

	d, err := r.SelectModel(jobFor("some-unknown-model", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "glm-4.5", d.SelectedModel, "a cooling model beats failing outright")
}

func TestBurstDampening(t *testing.T) {
	r := newTestRouter(testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
		}()
	}
	wg.Wait()

	views := r.Cooldowns()
	require.Len(t, views, 1)
	assert.Equal(t, 1, views[0].Count, "a concurrent burst registers as one backoff step")
	assert.Equal(t, uint64(9), r.Stats().BurstDampenedTotal)
}

func TestCooldownBackoffGrowsPerStep(t *testing.T) {
	r := newTestRouter(testConfig())
	now := time.Now()
	r.cooldowns.nowFunc = func() time.Time { return now }

	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
	first := r.cooldowns.remaining("glm-4.5")
	assert.Equal(t, 2*time.Second, first)

	// next hit lands after the window expires but before decay
	now = now.Add(3 * time.Second)
	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
	assert.Equal(t, 4*time.Second, r.cooldowns.remaining("glm-4.5"))

	now = now.Add(5 * time.Second)
	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
	assert.Equal(t, 8*time.Second, r.cooldowns.remaining("glm-4.5"))
}

func TestCooldownDecayResetsCount(t *testing.T) {
	r := newTestRouter(testConfig())
	now := time.Now()
	r.cooldowns.nowFunc = func() time.Time { return now }

	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
	now = now.Add(3 * time.Second)
	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})

	// quiet for longer than decayMs
	now = now.Add(31 * time.Second)
	r.RecordModelCooldown("glm-4.5", domain.ModelCooldownOpts{})
	assert.Equal(t, 2*time.Second, r.cooldowns.remaining("glm-4.5"))
}

func TestCooldownEntryEviction(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown.MaxCooldownEntries = 2
	r := newTestRouter(cfg)

	r.RecordModelCooldown("a", domain.ModelCooldownOpts{})
	r.RecordModelCooldown("b", domain.ModelCooldownOpts{})
	r.RecordModelCooldown("c", domain.ModelCooldownOpts{})

	r.cooldowns.mu.Lock()
	n := len(r.cooldowns.entries)
	r.cooldowns.mu.Unlock()
	assert.Equal(t, 2, n)
}

func TestShadowClassifierNeverChangesTier(t *testing.T) {
	cfg := testConfig()
	tc := cfg.Tiers[string(domain.TierMedium)]
	tc.ClientModelPolicy = "classify"
	cfg.Tiers[string(domain.TierMedium)] = tc
	cfg.Classifier.Shadow = true
	r := newTestRouter(cfg)

	// features that the classifier would promote to heavy
	d, err := r.SelectModel(jobFor("some-model", domain.Features{MaxTokens: 64_000}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierMedium, d.Tier)
	assert.Equal(t, domain.RouteSourceRule, d.Source)
}

func TestClassifierRefinesTierWhenLive(t *testing.T) {
	cfg := testConfig()
	tc := cfg.Tiers[string(domain.TierMedium)]
	tc.ClientModelPolicy = "classify"
	cfg.Tiers[string(domain.TierMedium)] = tc
	cfg.Classifier.Shadow = false
	r := newTestRouter(cfg)

	d, err := r.SelectModel(jobFor("some-model", domain.Features{MaxTokens: 64_000}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierHeavy, d.Tier)
	assert.Equal(t, domain.RouteSourceClassifier, d.Source)

	d, err = r.SelectModel(jobFor("some-model", domain.Features{MaxTokens: 512, MessageCount: 1}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierLight, d.Tier)
}

func TestRuleMatchOnlyPolicyPinsTier(t *testing.T) {
	cfg := testConfig()
	cfg.Classifier.Shadow = false
	r := newTestRouter(cfg)

	// default tiers are all rule-match-only, so big requests stay medium
	d, err := r.SelectModel(jobFor("some-model", domain.Features{MaxTokens: 64_000}), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TierMedium, d.Tier)
}

func TestRoutingDisabledPassthrough(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	r := newTestRouter(cfg)

	d, err := r.SelectModel(jobFor("claude-opus-4", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", d.SelectedModel)
	assert.Equal(t, domain.RouteSourceDefault, d.Source)
}

func TestStatsCounters(t *testing.T) {
	r := newTestRouter(testConfig())

	_, err := r.SelectModel(jobFor("claude-haiku-3", domain.Features{}), nil)
	require.NoError(t, err)
	_, err = r.SelectModel(jobFor("whatever", domain.Features{}), nil)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.ByTier[domain.TierLight])
	assert.Equal(t, uint64(1), stats.ByTier[domain.TierMedium])
	assert.Equal(t, uint64(2), stats.BySource[domain.RouteSourceRule])
	assert.Zero(t, stats.FailoverTotal)
}

func TestFailoverCountedDuringWarmup(t *testing.T) {
	r := newTestRouter(testConfig())

	attempted := map[string]struct{}{"glm-4.5": {}}
	_, err := r.SelectModel(jobFor("whatever", domain.Features{}), attempted)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.FailoverTotal)
	assert.Equal(t, uint64(1), stats.FailoverWarmup, "router just started, inside warmup window")
}

func TestFailoverAfterWarmupNotCountedAsWarmup(t *testing.T) {
	r := newTestRouter(testConfig())
	r.nowFunc = func() time.Time { return r.startedAt.Add(2 * time.Minute) }

	attempted := map[string]struct{}{"glm-4.5": {}}
	_, err := r.SelectModel(jobFor("whatever", domain.Features{}), attempted)
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.FailoverTotal)
	assert.Zero(t, stats.FailoverWarmup)
}

func TestSimulateDoesNotTouchStats(t *testing.T) {
	r := newTestRouter(testConfig())

	d, err := r.Simulate("claude-haiku-3", domain.Features{})
	require.NoError(t, err)
	assert.Equal(t, domain.TierLight, d.Tier)
	assert.Empty(t, r.Stats().BySource)
}

func TestOverrideLifecycle(t *testing.T) {
	r := newTestRouter(testConfig())

	require.NoError(t, r.SetOverride("claude-haiku-3", "glm-4.6"))
	assert.Equal(t, 1, r.OverrideCount())

	d, err := r.SelectModel(jobFor("claude-haiku-3", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "glm-4.6", d.SelectedModel)

	require.NoError(t, r.DeleteOverride("claude-haiku-3"))
	assert.Zero(t, r.OverrideCount())

	d, err = r.SelectModel(jobFor("claude-haiku-3", domain.Features{}), nil)
	require.NoError(t, err)
	assert.Equal(t, "glm-4.5-air", d.SelectedModel)

	assert.Error(t, r.SetOverride("", "x"))
}

func TestUpdateConfigValidates(t *testing.T) {
	r := newTestRouter(testConfig())

	bad := testConfig()
	bad.Failover.MaxModelSwitchesPerRequest = 1
	_, err := r.UpdateConfig(bad)
	assert.Error(t, err)

	good := testConfig()
	good.Failover.MaxModelSwitchesPerRequest = 5
	warnings, err := r.UpdateConfig(good)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings, "switch budget larger than any tier should warn")
	assert.Equal(t, 5, r.MaxModelSwitches())
}

type nilResolver struct{}

func (nilResolver) ResolveProviderForModel(string) *domain.ProviderResolution { return nil }
func (nilResolver) Provider(string) (domain.ProviderConfig, bool) {
	return domain.ProviderConfig{}, false
}
func (nilResolver) FormatAuthHeader(string, string) *domain.AuthHeader { return nil }
func (nilResolver) DefaultProvider() string                            { return "" }
func (nilResolver) SilentDefaultInjected() bool                        { return false }

func TestUnresolvableProviderFailsSelection(t *testing.T) {
	r := New(testConfig(), nilResolver{}, nil)

	_, err := r.SelectModel(jobFor("whatever", domain.Features{}), nil)
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}
