package errors

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("reasoner", WithMaxFailures(3))

	// When: recording 3 failures
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("backend down") })
	}

	// Then: circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())

	var called atomic.Bool
	err := cb.Execute(func() error {
		called.Store(true)
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.False(t, called.Load())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker("reasoner",
		WithMaxFailures(2),
		WithResetTimeout(time.Minute),
		withClock(clock.Now),
	)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("fail") })
	}
	require.Equal(t, StateOpen, cb.State())

	t.Run("probe failure reopens", func(t *testing.T) {
		clock.Advance(2 * time.Minute)
		assert.Equal(t, StateHalfOpen, cb.State())

		err := cb.Execute(func() error { return errors.New("still down") })
		assert.EqualError(t, err, "still down")
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("probe success closes", func(t *testing.T) {
		clock.Advance(2 * time.Minute)

		out, err := CircuitExecute(cb, func() (string, error) { return "ok", nil })
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, StateClosed, cb.State())
		assert.Zero(t, cb.Failures())
	})
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("reasoner", WithMaxFailures(3))

	_ = cb.Execute(func() error { return errors.New("fail") })
	_ = cb.Execute(func() error { return errors.New("fail") })
	assert.Equal(t, 2, cb.Failures())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Zero(t, cb.Failures())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitExecute_ReturnsZeroOnError(t *testing.T) {
	cb := NewCircuitBreaker("reasoner")

	out, err := CircuitExecute(cb, func() (int, error) { return 42, errors.New("fail") })
	assert.Error(t, err)
	assert.Zero(t, out)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
