package util

import (
	"math"
	"math/rand/v2"
	"time"
)

// CalculateExponentialBackoff computes baseDelay * 2^(attempt-1) capped at
// maxDelay, then applies a uniform jitter factor in [1-jitter, 1+jitter].
// Jitter keeps concurrent workers from synchronising their retries.
func CalculateExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitter > 0 {
		backoff *= JitterFactor(jitter)
	}

	return time.Duration(backoff)
}

// CalculateCountBackoff computes base * 2^(count-1) capped at cap, without
// jitter. Used where the exponent is a stored hit count rather than an
// attempt number.
func CalculateCountBackoff(count int, base, capDelay time.Duration) time.Duration {
	if count <= 0 {
		return 0
	}

	backoff := float64(base) * math.Pow(2, float64(count-1))
	if backoff > float64(capDelay) {
		backoff = float64(capDelay)
	}
	return time.Duration(backoff)
}

// JitterFactor returns a uniform multiplier in [1-spread, 1+spread].
func JitterFactor(spread float64) float64 {
	return 1 - spread + 2*spread*rand.Float64()
}
