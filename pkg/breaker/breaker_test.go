package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/breaker"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := breaker.New(breaker.Config{FailureThreshold: 3, Cooldown: time.Minute})
	failing := errors.New("upstream down")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		err := cb.Do(ctx, func(context.Context) error { return failing })
		assert.ErrorIs(t, err, failing)
	}

	assert.Equal(t, breaker.StateOpen, cb.State())

	// While open the function must not be invoked at all.
	invoked := false
	err := cb.Do(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	assert.ErrorIs(t, err, breaker.ErrServerUnavailable)
	assert.False(t, invoked)
}

func TestCircuitBreakerStaysClosedBelowThreshold(t *testing.T) {
	t.Parallel()

	cb := breaker.New(breaker.Config{FailureThreshold: 5, Cooldown: time.Minute})
	ctx := context.Background()
	failing := errors.New("flaky")

	for i := 0; i < 4; i++ {
		_ = cb.Do(ctx, func(context.Context) error { return failing })
	}
	assert.Equal(t, breaker.StateClosed, cb.State())

	// A success resets the consecutive failure counter.
	require.NoError(t, cb.Do(ctx, func(context.Context) error { return nil }))
	for i := 0; i < 4; i++ {
		_ = cb.Do(ctx, func(context.Context) error { return failing })
	}
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	t.Parallel()

	cb := breaker.New(breaker.Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Do(ctx, func(context.Context) error { return errors.New("down") })
	assert.Equal(t, breaker.StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, breaker.StateHalfOpen, cb.State())

	t.Run("successful probe closes", func(t *testing.T) {
		require.NoError(t, cb.Do(ctx, func(context.Context) error { return nil }))
		assert.Equal(t, breaker.StateClosed, cb.State())
	})
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	t.Parallel()

	cb := breaker.New(breaker.Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Do(ctx, func(context.Context) error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Do(ctx, func(context.Context) error { return errors.New("still down") })
	assert.Error(t, err)
	assert.NotErrorIs(t, err, breaker.ErrServerUnavailable, "the probe itself ran")
	assert.Equal(t, breaker.StateOpen, cb.State())

	// And the fresh cooldown applies again.
	err = cb.Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, breaker.ErrServerUnavailable)
}

func TestCircuitBreakerSuccessThreshold(t *testing.T) {
	t.Parallel()

	cb := breaker.New(breaker.Config{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Millisecond})
	ctx := context.Background()

	_ = cb.Do(ctx, func(context.Context) error { return errors.New("down") })
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Do(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, breaker.StateHalfOpen, cb.State(), "one success is not enough")

	require.NoError(t, cb.Do(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	t.Parallel()

	cb := breaker.New(breaker.Config{FailureThreshold: 1, Cooldown: time.Hour})
	_ = cb.Do(context.Background(), func(context.Context) error { return errors.New("down") })
	require.Equal(t, breaker.StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, breaker.StateClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, "closed", stats.State)
	assert.Zero(t, stats.Failures)
	assert.True(t, stats.LastFailureTime.IsZero())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", breaker.StateClosed.String())
	assert.Equal(t, "open", breaker.StateOpen.String())
	assert.Equal(t, "half-open", breaker.StateHalfOpen.String())
}
