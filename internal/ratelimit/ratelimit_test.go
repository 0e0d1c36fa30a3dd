package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Jitter(5*time.Second, 10*time.Second)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 10*time.Second)
	}
	assert.Equal(t, 3*time.Second, Jitter(3*time.Second, 3*time.Second))
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPacer_FirstStepDoesNotWait(t *testing.T) {
	p := NewPacer(5*time.Second, 10*time.Second)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx))
	}

	require.Len(t, slept, 2)
	for _, d := range slept {
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 10*time.Second)
	}
}

func TestAdaptiveRateLimiter_WaitsWidenedDelay(t *testing.T) {
	a := NewAdaptiveRateLimiter(10*time.Second, 10*time.Second)
	var slept []time.Duration
	a.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ctx := context.Background()
	require.NoError(t, a.Wait(ctx))
	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	require.NoError(t, a.Wait(ctx))

	assert.Equal(t, []time.Duration{15 * time.Second}, slept)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	a.sleep = Sleep
	assert.ErrorIs(t, a.Wait(canceled), context.Canceled)
}

func TestAdaptiveRateLimiter(t *testing.T) {
	a := NewAdaptiveRateLimiter(10*time.Second, 20*time.Second)

	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	min, max := a.Delay()
	assert.Equal(t, 15*time.Second, min)
	assert.Equal(t, 30*time.Second, max)

	for i := 0; i < 6; i++ {
		a.RecordSuccess()
	}
	min, _ = a.Delay()
	assert.Equal(t, 13500*time.Millisecond, min)

	for round := 0; round < 20; round++ {
		for i := 0; i < 6; i++ {
			a.RecordSuccess()
		}
	}
	min, _ = a.Delay()
	assert.Equal(t, 10*time.Second, min, "never below the configured floor")
}
