package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	p := DefaultPolicy().WithSleep(noSleep)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.WithSleep(noSleep)

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}.WithSleep(noSleep)

	transient := errors.New("503")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return transient
	})

	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, transient)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}.WithSleep(noSleep)

	rejected := errors.New("input too large")
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(rejected)
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, rejected)
	// The permanent wrapper is unwrapped before returning to the caller.
	assert.False(t, IsPermanent(err))
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}.WithSleep(
		func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		})

	err := p.Do(ctx, func(ctx context.Context) error {
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelay_ExponentialAndCapped(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 3 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 3*time.Second, p.Delay(2))
	assert.Equal(t, 3*time.Second, p.Delay(3))
}

func TestDelay_JitterStaysInRange(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Jitter: true}
	p.rand = func() float64 { return 0.5 }

	d := p.Delay(0)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 2*time.Second)
}
