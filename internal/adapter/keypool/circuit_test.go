package keypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glmproxy/glmproxy/internal/core/domain"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure(now)
	b.RecordFailure(now)
	assert.Equal(t, domain.CircuitClosed, b.State(now))
	assert.True(t, b.AllowAcquire(now))

	b.RecordFailure(now)
	assert.Equal(t, domain.CircuitOpen, b.State(now))
	assert.False(t, b.AllowAcquire(now))
}

func TestBreakerSuccessResetsConsecutive(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(3, time.Minute)

	b.RecordFailure(now)
	b.RecordFailure(now)
	b.RecordSuccess()
	b.RecordFailure(now)
	b.RecordFailure(now)

	assert.Equal(t, domain.CircuitClosed, b.State(now))
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(1, time.Minute)

	b.RecordFailure(now)
	require.Equal(t, domain.CircuitOpen, b.State(now))

	later := now.Add(61 * time.Second)
	require.Equal(t, domain.CircuitHalfOpen, b.State(later))

	// first acquire is the probe; further acquires are rejected until it resolves
	require.True(t, b.AllowAcquire(later))
	b.OnAcquire()
	assert.False(t, b.AllowAcquire(later))

	b.RecordSuccess()
	assert.Equal(t, domain.CircuitClosed, b.State(later))
	assert.True(t, b.AllowAcquire(later))
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(1, time.Minute)

	b.RecordFailure(now)
	later := now.Add(2 * time.Minute)
	require.True(t, b.AllowAcquire(later))
	b.OnAcquire()

	b.RecordFailure(later)
	assert.Equal(t, domain.CircuitOpen, b.State(later))
	assert.False(t, b.AllowAcquire(later))

	// and the cooldown clock restarted from the probe failure
	assert.Equal(t, domain.CircuitHalfOpen, b.State(later.Add(time.Minute)))
}

func TestBreakerProbeResolvedWithoutVerdict(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(1, time.Minute)

	b.RecordFailure(now)
	later := now.Add(2 * time.Minute)
	require.True(t, b.AllowAcquire(later))
	b.OnAcquire()
	require.False(t, b.AllowAcquire(later))

	// a rate-limited or aborted probe is neither a success nor a failure;
	// the breaker must allow the next probe instead of latching forever
	b.ResolveProbe()
	assert.Equal(t, domain.CircuitHalfOpen, b.State(later))
	assert.True(t, b.AllowAcquire(later))
}

func TestBreakerTripOpensImmediately(t *testing.T) {
	now := time.Now()
	b := NewCircuitBreaker(5, time.Minute)

	b.Trip(now)
	assert.Equal(t, domain.CircuitOpen, b.State(now))
	assert.False(t, b.AllowAcquire(now))
}
