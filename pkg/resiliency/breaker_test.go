package resiliency

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("test", BreakerPolicy{
		FailureThreshold: 3,
		Window:           10 * time.Second,
		Cooldown:         5 * time.Second,
	})
	cb.now = func() time.Time { return *now }
	return cb
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Greater(t, cb.RetryAfter(), time.Duration(0))
}

func TestBreakerFailuresAgeOut(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	cb.RecordFailure()
	cb.RecordFailure()

	// Old failures fall out of the rolling window; the next one alone
	// must not trip the breaker.
	now = now.Add(11 * time.Second)
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	// Cooldown elapsed: exactly one trial is admitted.
	now = now.Add(6 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
}

func TestBreakerTrialSuccessCloses(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	now = now.Add(6 * time.Second)
	require.NoError(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Allow())
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	now = now.Add(6 * time.Second)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	// Fresh cooldown starts from the re-open.
	now = now.Add(2 * time.Second)
	assert.Error(t, cb.Allow())
	now = now.Add(4 * time.Second)
	assert.NoError(t, cb.Allow())
}

func TestBreakerRetryAfterZeroWhenClosed(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)
	assert.Equal(t, time.Duration(0), cb.RetryAfter())
}
