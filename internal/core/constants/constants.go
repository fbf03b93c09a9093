package constants

import "time"

const (
	// Header constants
	HeaderContentType       = "Content-Type"
	HeaderRequestID         = "X-Glm-Request-ID"
	HeaderCredential        = "X-Glm-Credential"
	HeaderModel             = "X-Glm-Model"
	HeaderRetryAfter        = "Retry-After"
	HeaderRateLimitRemain   = "x-ratelimit-remaining"
	HeaderRateLimitLimit    = "x-ratelimit-limit"
	HeaderRateLimitReset    = "x-ratelimit-reset"
	ContentTypeJSON         = "application/json"
	ContentTypeEventStream  = "text/event-stream"
	ContentTypePrometheus   = "text/plain; version=0.0.4; charset=utf-8"
	DefaultUntaggedProvider = "__untagged__"
)

const (
	// Concurrency and retry defaults
	DefaultMaxConcurrencyPerKey = 5
	DefaultMaxTotalConcurrency  = 200
	DefaultMaxRetries           = 3
	DefaultQueueSize            = 100
	DefaultQueueTimeout         = 30 * time.Second
	DefaultRequestTimeout       = 300 * time.Second
	DefaultUpstreamTimeout      = 60 * time.Second
	DefaultFreeSocketTimeout    = 8 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second

	// Circuit breaker defaults
	DefaultFailureThreshold = 5
	DefaultBreakerCooldown  = 60 * time.Second

	// Retry backoff defaults
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultRetryMaxDelay  = 30 * time.Second

	// Pool cooldown defaults
	DefaultPoolCooldownBase  = 500 * time.Millisecond
	DefaultPoolCooldownCap   = 15 * time.Second
	DefaultPoolCooldownDecay = 15 * time.Second
	MaxPoolCount             = 10

	// Proactive pacing defaults
	DefaultPacingRemainingThreshold = 15
	DefaultPacingDelay              = 500 * time.Millisecond

	// Router cooldown defaults
	DefaultModelCooldown        = 2 * time.Second
	DefaultModelCooldownMax     = 60 * time.Second
	DefaultModelCooldownDecay   = 30 * time.Second
	DefaultModelCooldownEntries = 256
	DefaultMaxModelSwitches     = 2
	DefaultRouterWarmup         = 60 * time.Second

	// Body handling
	DefaultMaxBodySize      = 10 << 20 // 10MB request bodies
	DefaultStreamBufferSize = 64 * 1024
)
