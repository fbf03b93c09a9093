// Package ports defines the interfaces between the dispatch pipeline's
// components. Adapters depend on these, never on each other's concrete types;
// all cross-component communication is by value (IDs, provider names, models).
package ports

import (
	"context"
	"net/http"
	"time"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

// CredentialGrant is a leased credential slot. The holder must hand it back
// to the key manager through exactly one Record* call.
type CredentialGrant interface {
	ID() string
	Provider() string
	Secret() string
}

// KeyManager owns the credential set and its runtime state.
type KeyManager interface {
	// AcquireKey returns an available credential for the provider, or nil
	// when none can be acquired right now. Untagged requests use the
	// __untagged__ pseudo-provider.
	AcquireKey(attemptedIDs map[string]struct{}, provider string) CredentialGrant
	RecordSuccess(grant CredentialGrant, latency time.Duration)
	RecordFailure(grant CredentialGrant, kind domain.Outcome)
	RecordRateLimit(grant CredentialGrant, retryAfter time.Duration)
	ProviderHealthStats() map[string]domain.ProviderHealth
	Snapshot() []domain.CredentialSnapshot
	LoadKeys(spec domain.KeysSpec)
}

// CooldownEngine tracks per-(provider, model) 429 backoff and pacing.
type CooldownEngine interface {
	RecordHit(provider, model string) domain.PoolHit
	RecordHeaders(provider, model string, headers domain.RateLimitHeaders)
	RemainingFor(provider, model string) time.Duration
	AnyRemaining() time.Duration
	Snapshot() []domain.PoolSnapshot
}

// ModelRouter converts a job into a route decision and owns per-model cooldowns.
type ModelRouter interface {
	SelectModel(job *domain.Job, attemptedModels map[string]struct{}) (*domain.RouteDecision, error)
	RecordModelCooldown(model string, opts domain.ModelCooldownOpts)
	Cooldowns() []domain.ModelCooldownView
	Stats() domain.RouterStats
	MaxModelSwitches() int
}

// WaitQueue is the bounded FIFO jobs park in while every credential is busy.
type WaitQueue interface {
	// Enqueue returns a channel that receives exactly one result. A full
	// queue resolves synchronously with rejected_full.
	Enqueue(requestID string, timeout time.Duration) <-chan domain.QueueResult
	SignalSlotAvailable() bool
	Cancel(requestID string) bool
	Clear(reason domain.QueueOutcome)
	Position(requestID string) int
	Stats() domain.QueueStats
}

// UpstreamResult is the classified product of a single wire attempt.
type UpstreamResult struct {
	Outcome    domain.Outcome
	StatusCode int
	Latency    time.Duration
	Headers    domain.RateLimitHeaders
	// Body holds a buffered non-success response so terminal failures can
	// surface the upstream's own error payload. Empty for streamed successes.
	Body []byte
	// Streamed is true when the response was pumped to the downstream
	// writer as it arrived; such a result cannot be retried.
	Streamed bool
	Err      error
}

// UpstreamClient performs one attempt against an upstream provider.
// On success the response is written to w (streaming or buffered); on
// failure nothing is written downstream and the caller decides.
type UpstreamClient interface {
	Send(ctx context.Context, job *domain.Job, grant CredentialGrant, decision *domain.RouteDecision, w http.ResponseWriter) *UpstreamResult
}

// ProviderRegistry resolves models to providers and formats auth headers.
type ProviderRegistry interface {
	ResolveProviderForModel(model string) *domain.ProviderResolution
	Provider(name string) (domain.ProviderConfig, bool)
	FormatAuthHeader(providerName, apiKey string) *domain.AuthHeader
	DefaultProvider() string
	SilentDefaultInjected() bool
}
