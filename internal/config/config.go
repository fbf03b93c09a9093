package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
)

const (
	DefaultPort = 18790
	DefaultHost = "localhost"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              DefaultHost,
			Port:              DefaultPort,
			ReadTimeoutMs:     30_000,
			WriteTimeoutMs:    0, // streaming responses outlive any fixed write deadline
			ShutdownTimeoutMs: constants.DefaultShutdownTimeout.Milliseconds(),
		},
		Dispatch: DispatchConfig{
			MaxConcurrencyPerKey: constants.DefaultMaxConcurrencyPerKey,
			MaxTotalConcurrency:  constants.DefaultMaxTotalConcurrency,
			MaxRetries:           constants.DefaultMaxRetries,
			QueueSize:            constants.DefaultQueueSize,
			QueueTimeoutMs:       constants.DefaultQueueTimeout.Milliseconds(),
			RequestTimeoutMs:     constants.DefaultRequestTimeout.Milliseconds(),
			UpstreamTimeoutMs:    constants.DefaultUpstreamTimeout.Milliseconds(),
			KeepAliveTimeoutMs:   30_000,
			FreeSocketTimeoutMs:  constants.DefaultFreeSocketTimeout.Milliseconds(),
			BaseDelayMs:          constants.DefaultRetryBaseDelay.Milliseconds(),
			MaxDelayMs:           constants.DefaultRetryMaxDelay.Milliseconds(),
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: constants.DefaultFailureThreshold,
			CooldownPeriodMs: constants.DefaultBreakerCooldown.Milliseconds(),
		},
		PoolCooldown: PoolCooldownConfig{
			BaseMs:  constants.DefaultPoolCooldownBase.Milliseconds(),
			CapMs:   constants.DefaultPoolCooldownCap.Milliseconds(),
			DecayMs: constants.DefaultPoolCooldownDecay.Milliseconds(),
		},
		ProactivePace: ProactivePacingConfig{
			Enabled:            true,
			RemainingThreshold: constants.DefaultPacingRemainingThreshold,
			PacingDelayMs:      constants.DefaultPacingDelay.Milliseconds(),
		},
		ModelRouting: DefaultModelRoutingConfig(),
		Providers:    map[string]domain.ProviderConfig{},
		ModelMapping: map[string]any{},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			FileOutput: false,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}
}

// Load loads configuration from file and environment variables.
// Environment keys use the GLM_ prefix with dots replaced by underscores,
// eg. GLM_DISPATCH_MAXRETRIES=5. Unknown file keys are tolerated at boot
// (forward compatibility) but logged by the caller.
func Load() (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("GLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file
	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have GLM_CONFIG_FILE env var
		if configFile := os.Getenv("GLM_CONFIG_FILE"); configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	config.Filename = v.ConfigFileUsed()

	if err := config.ApplyDefaults(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyDefaults backfills zero values that viper left unset and validates
// the cross-field constraints the dispatcher depends on.
func (c *Config) ApplyDefaults() error {
	d := &c.Dispatch
	if d.MaxConcurrencyPerKey <= 0 {
		d.MaxConcurrencyPerKey = constants.DefaultMaxConcurrencyPerKey
	}
	if d.MaxTotalConcurrency <= 0 {
		d.MaxTotalConcurrency = constants.DefaultMaxTotalConcurrency
	}
	if d.QueueSize <= 0 {
		d.QueueSize = constants.DefaultQueueSize
	}
	if d.QueueTimeoutMs <= 0 {
		d.QueueTimeoutMs = constants.DefaultQueueTimeout.Milliseconds()
	}
	if d.RequestTimeoutMs <= 0 {
		d.RequestTimeoutMs = constants.DefaultRequestTimeout.Milliseconds()
	}
	if d.UpstreamTimeoutMs <= 0 {
		d.UpstreamTimeoutMs = constants.DefaultUpstreamTimeout.Milliseconds()
	}
	if d.BaseDelayMs <= 0 {
		d.BaseDelayMs = constants.DefaultRetryBaseDelay.Milliseconds()
	}
	if d.MaxDelayMs <= 0 {
		d.MaxDelayMs = constants.DefaultRetryMaxDelay.Milliseconds()
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = constants.DefaultFailureThreshold
	}
	if c.CircuitBreaker.CooldownPeriodMs <= 0 {
		c.CircuitBreaker.CooldownPeriodMs = constants.DefaultBreakerCooldown.Milliseconds()
	}

	p := &c.PoolCooldown
	if p.BaseMs <= 0 {
		p.BaseMs = constants.DefaultPoolCooldownBase.Milliseconds()
	}
	if p.CapMs < 15_000 {
		p.CapMs = constants.DefaultPoolCooldownCap.Milliseconds()
	}
	if p.DecayMs < 15_000 {
		p.DecayMs = constants.DefaultPoolCooldownDecay.Milliseconds()
	}

	if c.ProactivePace.RemainingThreshold <= 0 {
		c.ProactivePace.RemainingThreshold = constants.DefaultPacingRemainingThreshold
	}
	if c.ProactivePace.PacingDelayMs <= 0 {
		c.ProactivePace.PacingDelayMs = constants.DefaultPacingDelay.Milliseconds()
	}

	if _, err := c.ModelRouting.Validate(); err != nil {
		return fmt.Errorf("modelRouting: %w", err)
	}
	return nil
}

// ParseKeys turns the loosely typed keys block into a KeysSpec. Accepts a
// flat list of credential objects or a provider -> list map.
func (c *Config) ParseKeys() (domain.KeysSpec, error) {
	switch keys := c.Keys.(type) {
	case nil:
		return domain.KeysSpec{}, nil
	case []any:
		flat := make([]domain.CredentialSpec, 0, len(keys))
		for i, raw := range keys {
			spec, err := parseCredential(raw)
			if err != nil {
				return domain.KeysSpec{}, fmt.Errorf("keys[%d]: %w", i, err)
			}
			flat = append(flat, spec)
		}
		return domain.KeysSpec{Flat: flat}, nil
	case map[string]any:
		byProvider := make(map[string][]domain.CredentialSpec, len(keys))
		for provider, raw := range keys {
			list, ok := raw.([]any)
			if !ok {
				return domain.KeysSpec{}, fmt.Errorf("keys.%s: expected a list", provider)
			}
			specs := make([]domain.CredentialSpec, 0, len(list))
			for i, item := range list {
				spec, err := parseCredential(item)
				if err != nil {
					return domain.KeysSpec{}, fmt.Errorf("keys.%s[%d]: %w", provider, i, err)
				}
				spec.Provider = provider
				specs = append(specs, spec)
			}
			byProvider[provider] = specs
		}
		return domain.KeysSpec{ByProvider: byProvider}, nil
	default:
		return domain.KeysSpec{}, fmt.Errorf("keys: expected a list or a provider map, got %T", c.Keys)
	}
}

func parseCredential(raw any) (domain.CredentialSpec, error) {
	// a bare string is a secret with a derived id
	if secret, ok := raw.(string); ok {
		if secret == "" {
			return domain.CredentialSpec{}, fmt.Errorf("empty secret")
		}
		return domain.CredentialSpec{ID: deriveKeyID(secret), Secret: secret, Weight: 1}, nil
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return domain.CredentialSpec{}, fmt.Errorf("expected string or object, got %T", raw)
	}

	spec := domain.CredentialSpec{Weight: 1}
	if id, ok := m["id"].(string); ok {
		spec.ID = id
	}
	if secret, ok := m["secret"].(string); ok {
		spec.Secret = secret
	}
	if provider, ok := m["provider"].(string); ok {
		spec.Provider = provider
	}
	switch w := m["weight"].(type) {
	case float64:
		spec.Weight = w
	case int:
		spec.Weight = float64(w)
	}

	if spec.Secret == "" {
		return domain.CredentialSpec{}, fmt.Errorf("credential missing secret")
	}
	if spec.ID == "" {
		spec.ID = deriveKeyID(spec.Secret)
	}
	if spec.Weight <= 0 {
		spec.Weight = 1
	}
	return spec, nil
}

// deriveKeyID builds a stable, non-secret identifier from a secret's tail.
func deriveKeyID(secret string) string {
	tail := secret
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	return "key-" + tail
}

// ParseModelMapping normalises the modelMapping block: values may be bare
// strings (target only) or {target, provider} objects.
func (c *Config) ParseModelMapping() (map[string]domain.ModelMappingEntry, error) {
	out := make(map[string]domain.ModelMappingEntry, len(c.ModelMapping))
	for incoming, raw := range c.ModelMapping {
		switch v := raw.(type) {
		case string:
			out[incoming] = domain.ModelMappingEntry{Target: v}
		case map[string]any:
			entry := domain.ModelMappingEntry{}
			if target, ok := v["target"].(string); ok {
				entry.Target = target
			}
			if provider, ok := v["provider"].(string); ok {
				entry.Provider = provider
			}
			if entry.Target == "" {
				return nil, fmt.Errorf("modelMapping.%s: missing target", incoming)
			}
			out[incoming] = entry
		default:
			return nil, fmt.Errorf("modelMapping.%s: expected string or object, got %T", incoming, raw)
		}
	}
	return out, nil
}
