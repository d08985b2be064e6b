package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFiresImmediatelyAndPeriodically(t *testing.T) {
	var runs atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(context.Background(), "tick", 50*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 180*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	// one immediate fire plus at least one periodic fire
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestSingleFlightDropsOverlappingFires(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(context.Background(), "slow", 30*time.Millisecond, func(context.Context) error {
		cur := active.Add(1)
		if cur > maxActive.Load() {
			maxActive.Store(cur)
		}
		runs.Add(1)
		time.Sleep(120 * time.Millisecond)
		active.Add(-1)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(1), maxActive.Load(), "runs must never overlap")
	assert.LessOrEqual(t, runs.Load(), int32(3), "overlapping fires are dropped, not queued")
}

func TestFailedRunDoesNotStopSchedule(t *testing.T) {
	var runs atomic.Int32
	s := New(nil)
	require.NoError(t, s.Add(context.Background(), "flaky", 40*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return assert.AnError
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, runs.Load(), int32(2), "failure must not cancel later fires")
}

func TestJobsSeeCancellation(t *testing.T) {
	started := make(chan struct{})
	var sawCancel atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	s := New(nil)
	require.NoError(t, s.Add(ctx, "waiter", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.True(t, sawCancel.Load())
}
