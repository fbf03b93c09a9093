package domain

import "time"

// PoolHit is the result of recording one 429 against a (provider, model) pool.
type PoolHit struct {
	Cooldown          time.Duration
	Count             int
	WasAlreadyBlocked bool
}

// RateLimitHeaders carries the last observed upstream rate-limit header
// values. A value of -1 means the header was absent.
type RateLimitHeaders struct {
	Remaining  int64
	Limit      int64
	Reset      int64
	RetryAfter time.Duration
}

// NoRateLimitHeaders is the zero observation.
var NoRateLimitHeaders = RateLimitHeaders{Remaining: -1, Limit: -1, Reset: -1}

// PoolSnapshot is a read-only view of one model pool for stats.
type PoolSnapshot struct {
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	Remaining        time.Duration `json:"remainingMs"`
	PacingRemaining  time.Duration `json:"pacingRemainingMs"`
	Count            int           `json:"count"`
	LastHitAt        time.Time     `json:"lastHitAt"`
	LastRateLimit    int64         `json:"lastRateLimitLimit"`
	LastRateLimitRem int64         `json:"lastRateLimitRemaining"`
	LastRateLimitRst int64         `json:"lastRateLimitReset"`
}
