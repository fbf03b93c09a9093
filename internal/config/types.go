package config

import (
	"fmt"
	"time"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// Config holds all configuration for the application. Durations are
// expressed in milliseconds on the wire; accessors convert.
type Config struct {
	Filename       string                              `json:"-" mapstructure:"-"`
	Server         ServerConfig                        `json:"server" mapstructure:"server"`
	Dispatch       DispatchConfig                      `json:"dispatch" mapstructure:"dispatch"`
	CircuitBreaker CircuitBreakerConfig                `json:"circuitBreaker" mapstructure:"circuitBreaker"`
	PoolCooldown   PoolCooldownConfig                  `json:"poolCooldown" mapstructure:"poolCooldown"`
	ProactivePace  ProactivePacingConfig               `json:"proactivePacing" mapstructure:"proactivePacing"`
	ModelRouting   ModelRoutingConfig                  `json:"modelRouting" mapstructure:"modelRouting"`
	Providers      map[string]domain.ProviderConfig    `json:"providers" mapstructure:"providers"`
	ModelMapping   map[string]any                      `json:"modelMapping" mapstructure:"modelMapping"`
	Keys           any                                 `json:"keys" mapstructure:"keys"`
	Logging        LoggingConfig                       `json:"logging" mapstructure:"logging"`
	Auth           AuthConfig                          `json:"auth" mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string `json:"host" mapstructure:"host"`
	Port              int    `json:"port" mapstructure:"port"`
	ReadTimeoutMs     int64  `json:"readTimeout" mapstructure:"readTimeout"`
	WriteTimeoutMs    int64  `json:"writeTimeout" mapstructure:"writeTimeout"`
	ShutdownTimeoutMs int64  `json:"shutdownTimeout" mapstructure:"shutdownTimeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutMs) * time.Millisecond
}

// DispatchConfig holds the dispatch pipeline's concurrency and retry knobs.
type DispatchConfig struct {
	MaxConcurrencyPerKey int   `json:"maxConcurrencyPerKey" mapstructure:"maxConcurrencyPerKey"`
	MaxTotalConcurrency  int   `json:"maxTotalConcurrency" mapstructure:"maxTotalConcurrency"`
	MaxRetries           int   `json:"maxRetries" mapstructure:"maxRetries"`
	QueueSize            int   `json:"queueSize" mapstructure:"queueSize"`
	QueueTimeoutMs       int64 `json:"queueTimeout" mapstructure:"queueTimeout"`
	RequestTimeoutMs     int64 `json:"requestTimeout" mapstructure:"requestTimeout"`
	UpstreamTimeoutMs    int64 `json:"upstreamTimeout" mapstructure:"upstreamTimeout"`
	KeepAliveTimeoutMs   int64 `json:"keepAliveTimeout" mapstructure:"keepAliveTimeout"`
	FreeSocketTimeoutMs  int64 `json:"freeSocketTimeout" mapstructure:"freeSocketTimeout"`
	BaseDelayMs          int64 `json:"baseDelayMs" mapstructure:"baseDelayMs"`
	MaxDelayMs           int64 `json:"maxDelayMs" mapstructure:"maxDelayMs"`
}

func (d *DispatchConfig) GetQueueTimeout() time.Duration {
	return time.Duration(d.QueueTimeoutMs) * time.Millisecond
}

func (d *DispatchConfig) GetRequestTimeout() time.Duration {
	return time.Duration(d.RequestTimeoutMs) * time.Millisecond
}

func (d *DispatchConfig) GetUpstreamTimeout() time.Duration {
	return time.Duration(d.UpstreamTimeoutMs) * time.Millisecond
}

func (d *DispatchConfig) GetFreeSocketTimeout() time.Duration {
	return time.Duration(d.FreeSocketTimeoutMs) * time.Millisecond
}

func (d *DispatchConfig) GetBaseDelay() time.Duration {
	return time.Duration(d.BaseDelayMs) * time.Millisecond
}

func (d *DispatchConfig) GetMaxDelay() time.Duration {
	return time.Duration(d.MaxDelayMs) * time.Millisecond
}

// CircuitBreakerConfig controls the per-credential breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int   `json:"failureThreshold" mapstructure:"failureThreshold"`
	CooldownPeriodMs int64 `json:"cooldownPeriod" mapstructure:"cooldownPeriod"`
}

func (c *CircuitBreakerConfig) GetCooldownPeriod() time.Duration {
	return time.Duration(c.CooldownPeriodMs) * time.Millisecond
}

// PoolCooldownConfig is the per-(provider, model) 429 backoff block.
type PoolCooldownConfig struct {
	BaseMs          int64 `json:"baseMs" mapstructure:"baseMs"`
	CapMs           int64 `json:"capMs" mapstructure:"capMs"`
	DecayMs         int64 `json:"decayMs" mapstructure:"decayMs"`
	SleepThresholdMs int64 `json:"sleepThresholdMs" mapstructure:"sleepThresholdMs"`
	RetryJitterMs   int64 `json:"retryJitterMs" mapstructure:"retryJitterMs"`
	MaxCooldownMs   int64 `json:"maxCooldownMs" mapstructure:"maxCooldownMs"`
}

func (p *PoolCooldownConfig) GetBase() time.Duration  { return time.Duration(p.BaseMs) * time.Millisecond }
func (p *PoolCooldownConfig) GetCap() time.Duration   { return time.Duration(p.CapMs) * time.Millisecond }
func (p *PoolCooldownConfig) GetDecay() time.Duration { return time.Duration(p.DecayMs) * time.Millisecond }

// ProactivePacingConfig slows selection down before the upstream starts
// returning 429s, based on x-ratelimit-remaining.
type ProactivePacingConfig struct {
	Enabled            bool  `json:"enabled" mapstructure:"enabled"`
	RemainingThreshold int64 `json:"remainingThreshold" mapstructure:"remainingThreshold"`
	PacingDelayMs      int64 `json:"pacingDelayMs" mapstructure:"pacingDelayMs"`
}

func (p *ProactivePacingConfig) GetPacingDelay() time.Duration {
	return time.Duration(p.PacingDelayMs) * time.Millisecond
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Theme      string `json:"theme" mapstructure:"theme"`
	LogDir     string `json:"logDir" mapstructure:"logDir"`
	FileOutput bool   `json:"fileOutput" mapstructure:"fileOutput"`
	MaxSize    int    `json:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" mapstructure:"maxBackups"`
	MaxAge     int    `json:"maxAge" mapstructure:"maxAge"`
}

// AuthConfig is the downstream-facing authentication surface: clients send
// a single proxy key, never the upstream secrets.
type AuthConfig struct {
	ProxyKeys []string `json:"proxyKeys" mapstructure:"proxyKeys"`
}
