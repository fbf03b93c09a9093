package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultHost, cfg.Server.Host)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Dispatch.MaxConcurrencyPerKey)
	assert.Equal(t, 200, cfg.Dispatch.MaxTotalConcurrency)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 100, cfg.Dispatch.QueueSize)
	assert.Equal(t, int64(30_000), cfg.Dispatch.QueueTimeoutMs)
	assert.Equal(t, int64(300_000), cfg.Dispatch.RequestTimeoutMs)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.True(t, cfg.ModelRouting.Enabled)
	assert.True(t, cfg.ProactivePace.Enabled)
}

func TestApplyDefaultsBackfillsZeroValues(t *testing.T) {
	cfg := &Config{ModelRouting: DefaultModelRoutingConfig()}

	require.NoError(t, cfg.ApplyDefaults())

	assert.Equal(t, 5, cfg.Dispatch.MaxConcurrencyPerKey)
	assert.Equal(t, 200, cfg.Dispatch.MaxTotalConcurrency)
	assert.Equal(t, int64(1_000), cfg.Dispatch.BaseDelayMs)
	assert.Equal(t, int64(30_000), cfg.Dispatch.MaxDelayMs)
	assert.Equal(t, 5, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, int64(500), cfg.PoolCooldown.BaseMs)
	// the cap and decay have floors, not just zero-backfill
	assert.Equal(t, int64(15_000), cfg.PoolCooldown.CapMs)
	assert.Equal(t, int64(15_000), cfg.PoolCooldown.DecayMs)
}

func TestApplyDefaultsRejectsInvalidRouting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelRouting.Tiers["light"] = TierConfig{Models: nil}

	err := cfg.ApplyDefaults()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modelRouting")
}

func TestParseKeysBareStrings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keys = []any{"sk-abc123xyz789", "sk-short"}

	spec, err := cfg.ParseKeys()
	require.NoError(t, err)
	require.Len(t, spec.Flat, 2)

	assert.Equal(t, "key-xyz789", spec.Flat[0].ID)
	assert.Equal(t, "sk-abc123xyz789", spec.Flat[0].Secret)
	assert.Equal(t, float64(1), spec.Flat[0].Weight)
	// secrets shorter than the tail length use the whole string
	assert.Equal(t, "key--short", spec.Flat[1].ID)
}

func TestParseKeysObjects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keys = []any{
		map[string]any{"id": "primary", "secret": "sk-one", "weight": 2.0},
		map[string]any{"secret": "sk-two"},
	}

	spec, err := cfg.ParseKeys()
	require.NoError(t, err)
	require.Len(t, spec.Flat, 2)

	assert.Equal(t, "primary", spec.Flat[0].ID)
	assert.Equal(t, float64(2), spec.Flat[0].Weight)
	assert.Equal(t, "key-sk-two", spec.Flat[1].ID)
}

func TestParseKeysProviderMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keys = map[string]any{
		"z.ai":      []any{"sk-zai-111111"},
		"secondary": []any{map[string]any{"id": "b1", "secret": "sk-b"}},
	}

	spec, err := cfg.ParseKeys()
	require.NoError(t, err)
	require.Len(t, spec.ByProvider, 2)

	assert.Equal(t, "z.ai", spec.ByProvider["z.ai"][0].Provider)
	assert.Equal(t, "secondary", spec.ByProvider["secondary"][0].Provider)
	assert.Equal(t, "b1", spec.ByProvider["secondary"][0].ID)
}

func TestParseKeysErrors(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Keys = []any{map[string]any{"id": "no-secret"}}
	_, err := cfg.ParseKeys()
	assert.ErrorContains(t, err, "missing secret")

	cfg.Keys = []any{42}
	_, err = cfg.ParseKeys()
	assert.ErrorContains(t, err, "expected string or object")

	cfg.Keys = map[string]any{"z.ai": "not-a-list"}
	_, err = cfg.ParseKeys()
	assert.ErrorContains(t, err, "expected a list")

	cfg.Keys = "just-a-string"
	_, err = cfg.ParseKeys()
	assert.ErrorContains(t, err, "expected a list or a provider map")
}

func TestParseModelMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelMapping = map[string]any{
		"claude-3-5-haiku": "glm-4.5-air",
		"claude-3-opus": map[string]any{
			"target":   "glm-4.6",
			"provider": "secondary",
		},
	}

	mapping, err := cfg.ParseModelMapping()
	require.NoError(t, err)

	assert.Equal(t, domain.ModelMappingEntry{Target: "glm-4.5-air"}, mapping["claude-3-5-haiku"])
	assert.Equal(t, domain.ModelMappingEntry{Target: "glm-4.6", Provider: "secondary"}, mapping["claude-3-opus"])
}

func TestParseModelMappingMissingTarget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelMapping = map[string]any{"bad": map[string]any{"provider": "x"}}

	_, err := cfg.ParseModelMapping()
	assert.ErrorContains(t, err, "missing target")
}

func TestRoutingValidateDefault(t *testing.T) {
	cfg := DefaultModelRoutingConfig()
	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestRoutingValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ModelRoutingConfig)
		wantErr string
	}{
		{
			name:    "unknown tier name",
			mutate:  func(c *ModelRoutingConfig) { c.Tiers["turbo"] = TierConfig{Models: []string{"m"}} },
			wantErr: `unknown tier "turbo"`,
		},
		{
			name:    "empty tier models",
			mutate:  func(c *ModelRoutingConfig) { c.Tiers["light"] = TierConfig{} },
			wantErr: "has no models",
		},
		{
			name: "bad client model policy",
			mutate: func(c *ModelRoutingConfig) {
				c.Tiers["light"] = TierConfig{Models: []string{"m"}, ClientModelPolicy: "yolo"}
			},
			wantErr: "unknown clientModelPolicy",
		},
		{
			name:    "rule with unknown tier",
			mutate:  func(c *ModelRoutingConfig) { c.Rules[0].Tier = "mega" },
			wantErr: `unknown tier "mega"`,
		},
		{
			name: "last rule not a catch-all",
			mutate: func(c *ModelRoutingConfig) {
				c.Rules = c.Rules[:len(c.Rules)-1]
			},
			wantErr: "unconditional catch-all",
		},
		{
			name:    "switch budget below floor",
			mutate:  func(c *ModelRoutingConfig) { c.Failover.MaxModelSwitchesPerRequest = 1 },
			wantErr: "must be >= 2",
		},
		{
			name:    "fractional backoff multiplier",
			mutate:  func(c *ModelRoutingConfig) { c.Cooldown.BackoffMultiplier = 0.5 },
			wantErr: "backoffMultiplier must be >= 1",
		},
		{
			name:    "wrong schema major version",
			mutate:  func(c *ModelRoutingConfig) { c.Version = "1.0" },
			wantErr: "unsupported routing schema version",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultModelRoutingConfig()
			tc.mutate(&cfg)
			_, err := cfg.Validate()
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestRoutingValidateWarnings(t *testing.T) {
	cfg := DefaultModelRoutingConfig()
	cfg.Rules[len(cfg.Rules)-1].Tier = "heavy"
	cfg.Failover.MaxModelSwitchesPerRequest = 10

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "medium is the conventional default")
	assert.Contains(t, warnings[1], "extra switches will never fire")
}

func TestDecodeModelRoutingStrictUnknownKey(t *testing.T) {
	_, err := DecodeModelRoutingStrict([]byte(`{"enabled": true, "enabledd": false}`))
	require.Error(t, err)

	var unknown *domain.ErrUnknownConfigKey
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "enabledd", unknown.Key)
}

func TestDecodeModelRoutingStrictFillsVersion(t *testing.T) {
	cfg, err := DecodeModelRoutingStrict([]byte(`{"enabled": true}`))
	require.NoError(t, err)
	assert.Equal(t, RoutingSchemaVersion, cfg.Version)
}

func TestSaveAndLoadModelRouting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model-routing.json")

	cfg := DefaultModelRoutingConfig()
	cfg.DefaultModel = "glm-4.6"
	require.NoError(t, SaveModelRouting(path, &cfg))

	loaded, err := LoadModelRouting(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "glm-4.6", loaded.DefaultModel)
	assert.Equal(t, RoutingSchemaVersion, loaded.Version)

	// a second save keeps exactly one backup of the previous file
	cfg.DefaultModel = "glm-4.5"
	require.NoError(t, SaveModelRouting(path, &cfg))

	backup, err := LoadModelRouting(path + ".bak")
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, "glm-4.6", backup.DefaultModel)
}

func TestLoadModelRoutingMissingFile(t *testing.T) {
	cfg, err := LoadModelRouting(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLoadModelRoutingRejectsWrongSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": "1.0"}`), 0644))

	_, err := LoadModelRouting(path)
	assert.ErrorContains(t, err, "unsupported routing schema version")
}
