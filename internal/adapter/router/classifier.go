package router

import "github.com/glmproxy/glmproxy/internal/core/domain"

// Thresholds for the feature classifier. These only apply on tiers whose
// clientModelPolicy is "classify"; production tiers pin rule-match-only so
// an unknown client model can never be auto-promoted to heavy.
const (
	heavyMaxTokens    = 32_000
	heavySystemLength = 10_000
	lightMaxTokens    = 1_024
	lightMessageCount = 2
)

// classifyTier refines a rule-matched tier from the request features.
// It returns the input tier when the features are unremarkable.
func classifyTier(tier domain.Tier, f domain.Features) domain.Tier {
	if f.HasVision || f.MaxTokens >= heavyMaxTokens || f.SystemLength >= heavySystemLength {
		return domain.TierHeavy
	}
	if !f.HasTools && !f.HasVision &&
		f.MessageCount > 0 && f.MessageCount <= lightMessageCount &&
		f.MaxTokens > 0 && f.MaxTokens <= lightMaxTokens {
		return domain.TierLight
	}
	return tier
}
