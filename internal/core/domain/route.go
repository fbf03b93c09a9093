package domain

import "time"

// Tier is a coarse capability class used to pick the candidate model list.
type Tier string

const (
	TierLight  Tier = "light"
	TierMedium Tier = "medium"
	TierHeavy  Tier = "heavy"
)

// ValidTier reports whether t is one of the three known tiers.
func ValidTier(t Tier) bool {
	return t == TierLight || t == TierMedium || t == TierHeavy
}

// RouteSource identifies which stage of the classification pipeline decided.
type RouteSource string

const (
	RouteSourceRule          RouteSource = "rule"
	RouteSourceClassifier    RouteSource = "classifier"
	RouteSourceSavedOverride RouteSource = "saved-override"
	RouteSourceDefault       RouteSource = "default"
)

// RouteDecision is the router's verdict for one dispatch attempt.
type RouteDecision struct {
	Tier              Tier        `json:"tier"`
	SelectedModel     string      `json:"selectedModel"`
	Provider          string      `json:"provider"`
	FallbackRemaining []string    `json:"fallbackRemaining"`
	Source            RouteSource `json:"source"`
	Reason            string      `json:"reason"`
	CooldownReasons   []string    `json:"cooldownReasons,omitempty"`
}

// ModelCooldownView is a read-only snapshot of one per-model cooldown entry,
// exposed through the admin cooldown endpoint.
type ModelCooldownView struct {
	Model         string        `json:"model"`
	Remaining     time.Duration `json:"remainingMs"`
	Count         int           `json:"count"`
	BurstDampened bool          `json:"burstDampened"`
}

// RouterStats aggregates routing counters for observability.
type RouterStats struct {
	ByTier             map[Tier]uint64        `json:"byTier"`
	BySource           map[RouteSource]uint64 `json:"bySource"`
	FailoverTotal      uint64                 `json:"failoverTotal"`
	FailoverWarmup     uint64                 `json:"failoverWarmupTotal"`
	BurstDampenedTotal uint64                 `json:"burstDampenedTotal"`
}

// ModelCooldownOpts modifies how a model cooldown hit is recorded.
type ModelCooldownOpts struct {
	// BurstDampened forces the hit to register without a count increment.
	// The router also infers dampening when the model is already cooling.
	BurstDampened bool
}
