package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBreaker(cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("compute_service", BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         cooldown,
	}, zap.NewNop())
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	for i := 0; i < 4; i++ {
		require.True(t, cb.Allow())
		cb.RecordFailure()
		assert.Equal(t, BreakerClosed, cb.State())
	}

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())

	// Rejected immediately without invoking the service
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, cb.State(), "non-consecutive failures do not open the breaker")
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, BreakerOpen, cb.State())
	require.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)

	// First call after the cooldown is the trial call
	assert.True(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())

	// Only one trial at a time
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	cb := newTestBreaker(time.Millisecond)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(5 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, cb.State(), "one success is not enough")

	require.True(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := newTestBreaker(time.Millisecond)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(5 * time.Millisecond)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreaker_OperatorReset(t *testing.T) {
	cb := newTestBreaker(time.Hour)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, BreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}
