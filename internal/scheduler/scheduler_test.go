package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSchedule_Fires(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	done := make(chan error, 1)
	s.Schedule("919876543210", 10*time.Millisecond, func(ctx context.Context) {
		done <- ctx.Err()
	})
	require.True(t, s.Pending("919876543210"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	require.Eventually(t, func() bool { return !s.Pending("919876543210") }, time.Second, 5*time.Millisecond)
}

func TestCancel_PreventsRun(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	s.Schedule("a", 50*time.Millisecond, func(context.Context) { runs.Add(1) })
	require.True(t, s.Cancel("a"))
	require.False(t, s.Cancel("a"))
	require.False(t, s.Pending("a"))

	time.Sleep(100 * time.Millisecond)
	require.Zero(t, runs.Load())
}

func TestSchedule_ReplacesPending(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var first, second atomic.Int32
	s.Schedule("a", 30*time.Millisecond, func(context.Context) { first.Add(1) })
	s.Schedule("a", 30*time.Millisecond, func(context.Context) { second.Add(1) })
	require.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, first.Load())
}

func TestSchedule_KeysAreIndependent(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var runs atomic.Int32
	s.Schedule("a", 20*time.Millisecond, func(context.Context) { runs.Add(1) })
	s.Schedule("b", 20*time.Millisecond, func(context.Context) { runs.Add(1) })
	require.True(t, s.Cancel("a"))

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, s.Pending("b"))
}

func TestStop_CancelsPendingAndRunning(t *testing.T) {
	s := New(nil)

	started := make(chan struct{})
	var cancelled atomic.Bool
	s.Schedule("running", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	var pendingRuns atomic.Int32
	s.Schedule("pending", time.Hour, func(context.Context) { pendingRuns.Add(1) })

	<-started
	s.Stop()
	require.True(t, cancelled.Load())
	require.Zero(t, pendingRuns.Load())
	require.Zero(t, s.Len())

	s.Schedule("late", 0, func(context.Context) { pendingRuns.Add(1) })
	require.False(t, s.Pending("late"))
	s.Stop()
}

func TestSchedule_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s := New(zap.New(core))

	s.Schedule("a", 0, func(context.Context) { panic("boom") })
	require.Eventually(t, func() bool {
		return logs.FilterMessage("scheduled task panicked").Len() == 1
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
