package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Delays:    []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond},
		JitterMax: 5 * time.Millisecond,
	}
}

func TestDoInvokesAtMostThreeTimes(t *testing.T) {
	var calls int32
	err := Do(context.Background(), testConfig(), func(int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("dispatch failed")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&calls)), 3)
	assert.Equal(t, 3, int(atomic.LoadInt32(&calls)))
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	var calls int32
	err := Do(context.Background(), testConfig(), func(attempt int) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			return nil
		}
		return errors.New("not yet")
	})

	assert.NoError(t, err)
	assert.Equal(t, int32(2), calls)
}

func TestDoAggregateDelayMatchesSumOfBaseDelays(t *testing.T) {
	cfg := Config{
		Delays: []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 700 * time.Millisecond},
	}
	start := time.Now()
	_ = Do(context.Background(), cfg, func(int) error {
		return errors.New("always fails")
	})
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 1100*time.Millisecond)
}

func TestDoJitterVariesBetweenRuns(t *testing.T) {
	cfg := Config{
		Delays:    []time.Duration{5 * time.Millisecond},
		JitterMax: 20 * time.Millisecond,
	}

	durations := make(map[time.Duration]bool)
	for i := 0; i < 8; i++ {
		start := time.Now()
		_ = Do(context.Background(), cfg, func(int) error { return errors.New("fail") })
		durations[time.Since(start).Round(time.Millisecond)] = true
	}

	assert.Greater(t, len(durations), 1, "jitter should produce varying per-attempt delays across runs")
}

func TestDoReturnsContextErrDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	err := Do(ctx, testConfig(), func(int) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("should not run")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls)
}
