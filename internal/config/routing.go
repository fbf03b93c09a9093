package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

const RoutingSchemaVersion = "2.1"

// ModelRoutingConfig is the runtime-editable routing block. It is
// schema-validated strictly on admin PUTs and permissively at boot, and
// persisted as versioned JSON with one .bak sibling.
type ModelRoutingConfig struct {
	Version            string                     `json:"version" mapstructure:"version"`
	Enabled            bool                       `json:"enabled" mapstructure:"enabled"`
	DefaultModel       string                     `json:"defaultModel" mapstructure:"defaultModel"`
	Tiers              map[string]TierConfig      `json:"tiers" mapstructure:"tiers"`
	Rules              []RuleConfig               `json:"rules" mapstructure:"rules"`
	Overrides          map[string]string          `json:"overrides" mapstructure:"overrides"`
	Classifier         ClassifierConfig           `json:"classifier" mapstructure:"classifier"`
	Cooldown           RouterCooldownConfig       `json:"cooldown" mapstructure:"cooldown"`
	Failover           FailoverConfig             `json:"failover" mapstructure:"failover"`
	PersistConfigEdits bool                       `json:"persistConfigEdits" mapstructure:"persistConfigEdits"`
	ConfigFile         string                     `json:"configFile,omitempty" mapstructure:"configFile"`
}

// TierConfig is one capability tier's ordered candidate list.
type TierConfig struct {
	Models []string `json:"models" mapstructure:"models"`
	// ClientModelPolicy is "classify" to let the classifier refine the
	// tier, or "rule-match-only" to pin it. Production tiers run
	// rule-match-only so unknown models are never auto-promoted to heavy.
	ClientModelPolicy string `json:"clientModelPolicy" mapstructure:"clientModelPolicy"`
}

// RuleConfig matches a request on a conjunction of predicates; first match wins.
type RuleConfig struct {
	Match MatchConfig `json:"match" mapstructure:"match"`
	Tier  string      `json:"tier" mapstructure:"tier"`
}

// MatchConfig holds the rule predicates. Nil pointer fields do not constrain.
type MatchConfig struct {
	Model           string `json:"model,omitempty" mapstructure:"model"`
	HasTools        *bool  `json:"hasTools,omitempty" mapstructure:"hasTools"`
	HasVision       *bool  `json:"hasVision,omitempty" mapstructure:"hasVision"`
	MaxTokensGte    *int   `json:"maxTokensGte,omitempty" mapstructure:"maxTokensGte"`
	MessageCountGte *int   `json:"messageCountGte,omitempty" mapstructure:"messageCountGte"`
	SystemLengthGte *int   `json:"systemLengthGte,omitempty" mapstructure:"systemLengthGte"`
}

// IsUnconditional reports whether the rule matches every request.
func (m *MatchConfig) IsUnconditional() bool {
	return (m.Model == "" || m.Model == "*") &&
		m.HasTools == nil && m.HasVision == nil &&
		m.MaxTokensGte == nil && m.MessageCountGte == nil && m.SystemLengthGte == nil
}

// ClassifierConfig controls the optional tier refinement stage.
type ClassifierConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Shadow runs the classifier for tracing without letting its verdict
	// change the routed tier.
	Shadow bool `json:"shadow" mapstructure:"shadow"`
}

// RouterCooldownConfig is the per-model cooldown block, distinct from the
// per-provider pool cooldown.
type RouterCooldownConfig struct {
	DefaultMs          int64   `json:"defaultMs" mapstructure:"defaultMs"`
	MaxMs              int64   `json:"maxMs" mapstructure:"maxMs"`
	DecayMs            int64   `json:"decayMs" mapstructure:"decayMs"`
	BackoffMultiplier  float64 `json:"backoffMultiplier" mapstructure:"backoffMultiplier"`
	MaxCooldownEntries int     `json:"maxCooldownEntries" mapstructure:"maxCooldownEntries"`
}

// FailoverConfig caps model switching per request.
type FailoverConfig struct {
	MaxModelSwitchesPerRequest int   `json:"maxModelSwitchesPerRequest" mapstructure:"maxModelSwitchesPerRequest"`
	WarmupDurationMs           int64 `json:"warmupDurationMs" mapstructure:"warmupDurationMs"`
}

func (f *FailoverConfig) GetWarmupDuration() time.Duration {
	return time.Duration(f.WarmupDurationMs) * time.Millisecond
}

// DefaultModelRoutingConfig mirrors the production shape: three tiers with
// rule-match-only policies and an unconditional medium catch-all.
func DefaultModelRoutingConfig() ModelRoutingConfig {
	return ModelRoutingConfig{
		Version:      RoutingSchemaVersion,
		Enabled:      true,
		DefaultModel: "glm-4.5",
		Tiers: map[string]TierConfig{
			string(domain.TierLight):  {Models: []string{"glm-4.5-air", "glm-4-flash"}, ClientModelPolicy: "rule-match-only"},
			string(domain.TierMedium): {Models: []string{"glm-4.5", "glm-4.5-air"}, ClientModelPolicy: "rule-match-only"},
			string(domain.TierHeavy):  {Models: []string{"glm-4.6", "glm-4.5"}, ClientModelPolicy: "rule-match-only"},
		},
		Rules: []RuleConfig{
			{Match: MatchConfig{Model: "*haiku*"}, Tier: string(domain.TierLight)},
			{Match: MatchConfig{Model: "*opus*"}, Tier: string(domain.TierHeavy)},
			{Match: MatchConfig{HasVision: boolPtr(true)}, Tier: string(domain.TierHeavy)},
			{Match: MatchConfig{}, Tier: string(domain.TierMedium)},
		},
		Overrides: map[string]string{},
		Classifier: ClassifierConfig{
			Enabled: true,
			Shadow:  true,
		},
		Cooldown: RouterCooldownConfig{
			DefaultMs:          constants.DefaultModelCooldown.Milliseconds(),
			MaxMs:              constants.DefaultModelCooldownMax.Milliseconds(),
			DecayMs:            constants.DefaultModelCooldownDecay.Milliseconds(),
			BackoffMultiplier:  2.0,
			MaxCooldownEntries: constants.DefaultModelCooldownEntries,
		},
		Failover: FailoverConfig{
			MaxModelSwitchesPerRequest: constants.DefaultMaxModelSwitches,
			WarmupDurationMs:           constants.DefaultRouterWarmup.Milliseconds(),
		},
		PersistConfigEdits: true,
		ConfigFile:         "model-routing.json",
	}
}

func boolPtr(b bool) *bool { return &b }

// Validate checks the routing config's structural invariants. The returned
// warnings are advisory (surfaced through the admin API); the error is fatal.
func (c *ModelRoutingConfig) Validate() ([]string, error) {
	var warnings []string

	if c.Version != "" && !strings.HasPrefix(c.Version, "2.") {
		return nil, fmt.Errorf("unsupported routing schema version %q (want 2.x)", c.Version)
	}

	maxModels := 0
	for name, tier := range c.Tiers {
		if !domain.ValidTier(domain.Tier(name)) {
			return nil, fmt.Errorf("unknown tier %q", name)
		}
		if len(tier.Models) == 0 {
			return nil, fmt.Errorf("tier %q has no models", name)
		}
		if tier.ClientModelPolicy != "" && tier.ClientModelPolicy != "classify" && tier.ClientModelPolicy != "rule-match-only" {
			return nil, fmt.Errorf("tier %q: unknown clientModelPolicy %q", name, tier.ClientModelPolicy)
		}
		if len(tier.Models) > maxModels {
			maxModels = len(tier.Models)
		}
	}

	for i, rule := range c.Rules {
		if !domain.ValidTier(domain.Tier(rule.Tier)) {
			return nil, fmt.Errorf("rule %d: unknown tier %q", i, rule.Tier)
		}
	}
	if len(c.Rules) > 0 {
		last := c.Rules[len(c.Rules)-1]
		if !last.Match.IsUnconditional() {
			return nil, fmt.Errorf("last rule must be an unconditional catch-all")
		}
		if last.Tier != string(domain.TierMedium) {
			warnings = append(warnings, fmt.Sprintf("catch-all rule routes to tier %q; medium is the conventional default", last.Tier))
		}
	}

	if c.Failover.MaxModelSwitchesPerRequest < 2 {
		return nil, fmt.Errorf("failover.maxModelSwitchesPerRequest must be >= 2")
	}
	if maxModels > 0 && c.Failover.MaxModelSwitchesPerRequest > maxModels {
		warnings = append(warnings, fmt.Sprintf(
			"failover.maxModelSwitchesPerRequest (%d) exceeds the largest tier's model count (%d); extra switches will never fire",
			c.Failover.MaxModelSwitchesPerRequest, maxModels))
	}

	if c.Cooldown.BackoffMultiplier != 0 && c.Cooldown.BackoffMultiplier < 1 {
		return nil, fmt.Errorf("cooldown.backoffMultiplier must be >= 1")
	}

	return warnings, nil
}

// DecodeModelRoutingStrict decodes a runtime PUT payload, failing fast on
// unknown keys. Boot-time loads go through the permissive viper path instead.
func DecodeModelRoutingStrict(data []byte) (*ModelRoutingConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg ModelRoutingConfig
	if err := dec.Decode(&cfg); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			key := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return nil, &domain.ErrUnknownConfigKey{Key: key}
		}
		return nil, fmt.Errorf("invalid routing config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = RoutingSchemaVersion
	}
	return &cfg, nil
}

// SaveModelRouting persists the routing config via atomic rename, keeping
// exactly one .bak of the previous version.
func SaveModelRouting(path string, cfg *ModelRoutingConfig) error {
	cfg.Version = RoutingSchemaVersion

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal routing config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".routing-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write routing config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync routing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close routing config: %w", err)
	}

	// keep one backup of whatever we are replacing
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("backup routing config: %w", err)
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace routing config: %w", err)
	}
	return nil
}

// LoadModelRouting reads a persisted routing config. A missing file is not
// an error; the caller falls back to defaults.
func LoadModelRouting(path string) (*ModelRoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read routing config: %w", err)
	}

	var cfg ModelRoutingConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse routing config: %w", err)
	}
	if cfg.Version != "" && !strings.HasPrefix(cfg.Version, "2.") {
		return nil, fmt.Errorf("unsupported routing schema version %q", cfg.Version)
	}
	return &cfg, nil
}
