package domain

import "time"

// CircuitState is the per-credential breaker state machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "halfOpen"
)

// CredentialSpec is the immutable identity of one upstream credential as
// loaded from configuration. Runtime state lives in the key pool.
type CredentialSpec struct {
	ID       string  `yaml:"id" json:"id" mapstructure:"id"`
	Secret   string  `yaml:"secret" json:"-" mapstructure:"secret"`
	Provider string  `yaml:"provider" json:"provider,omitempty" mapstructure:"provider"`
	Weight   float64 `yaml:"weight" json:"weight,omitempty" mapstructure:"weight"`
}

// CredentialSnapshot is a read-only copy of one credential's runtime state,
// produced inside the key manager's lock for observability.
type CredentialSnapshot struct {
	ID                  string       `json:"id"`
	Provider            string       `json:"provider"`
	Weight              float64      `json:"weight"`
	InFlight            int          `json:"inFlight"`
	Circuit             CircuitState `json:"circuit"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	TotalRequests       uint64       `json:"totalRequests"`
	Successes           uint64       `json:"successes"`
	Failures            uint64       `json:"failures"`
	ErrorRate           float64      `json:"errorRate"`
	LatencyEWMA         float64      `json:"latencyEwmaMs"`
	LastUsed            time.Time    `json:"lastUsed"`
	RateLimitedUntil    time.Time    `json:"rateLimitedUntil,omitempty"`
}

// ProviderHealth is the per-provider aggregate the stats endpoint exposes.
type ProviderHealth struct {
	Total        int     `json:"total"`
	Available    int     `json:"available"`
	InFlight     int     `json:"inFlight"`
	OpenCircuits int     `json:"openCircuits"`
	ErrorRate    float64 `json:"errorRate"`
}

// KeysSpec carries credentials either as a flat list (all untagged) or as a
// provider-keyed map. Exactly one of the two is populated.
type KeysSpec struct {
	Flat       []CredentialSpec
	ByProvider map[string][]CredentialSpec
}
