package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/metrics"
)

type captureDeadLetter struct {
	mu   sync.Mutex
	jobs []Job
	errs []error
}

func (c *captureDeadLetter) DeadLetter(_ context.Context, job Job, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	c.errs = append(c.errs, err)
}

func (c *captureDeadLetter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

func fastConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      16,
		EnqueueTimeout: 20 * time.Millisecond,
		Attempts:       3,
		Backoff:        time.Millisecond,
		MaxBackoff:     time.Millisecond,
		JobTimeout:     time.Second,
	}
}

func closeDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestSubmit_RunsJobs(t *testing.T) {
	d := New(fastConfig())
	var runs atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, d.Submit(context.Background(), Job{
			Key:  fmt.Sprintf("phone-%d", i),
			Name: "test",
			Run:  func(context.Context) error { runs.Add(1); return nil },
		}))
	}
	closeDispatcher(t, d)
	require.Equal(t, int32(20), runs.Load())
}

func TestSubmit_SameKeyRunsInOrder(t *testing.T) {
	d := New(fastConfig())

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, d.Submit(context.Background(), Job{
			Key:  "919876543210",
			Name: "reply",
			Run: func(context.Context) error {
				if running.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				running.Add(-1)
				return nil
			},
		}))
	}
	closeDispatcher(t, d)

	require.False(t, overlap.Load())
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestProcess_RetriesThenSucceeds(t *testing.T) {
	dl := &captureDeadLetter{}
	d := New(fastConfig(), WithDeadLetter(dl))

	var attempts atomic.Int32
	require.NoError(t, d.Submit(context.Background(), Job{
		Key:  "k",
		Name: "flaky",
		Run: func(context.Context) error {
			if attempts.Add(1) < 3 {
				return errors.New("store timeout")
			}
			return nil
		},
	}))
	closeDispatcher(t, d)

	require.Equal(t, int32(3), attempts.Load())
	require.Zero(t, dl.count())
}

func TestProcess_DeadLettersAfterBudget(t *testing.T) {
	m := metrics.New()
	d := New(fastConfig(), WithMetrics(m))

	var attempts atomic.Int32
	require.NoError(t, d.Submit(context.Background(), Job{
		Key:  "k",
		Name: "broken",
		Run:  func(context.Context) error { attempts.Add(1); return errors.New("always") },
	}))
	closeDispatcher(t, d)

	require.Equal(t, int32(3), attempts.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(m.DeadLetters))
	require.Zero(t, testutil.ToFloat64(m.QueueDepth))
}

func TestProcess_PanicsAreFailures(t *testing.T) {
	dl := &captureDeadLetter{}
	d := New(fastConfig(), WithDeadLetter(dl))

	require.NoError(t, d.Submit(context.Background(), Job{
		ID:   "job-1",
		Key:  "k",
		Name: "panicky",
		Run:  func(context.Context) error { panic("nil map") },
	}))
	closeDispatcher(t, d)

	require.Equal(t, 1, dl.count())
	require.Equal(t, "job-1", dl.jobs[0].ID)
	require.ErrorContains(t, dl.errs[0], "panicked")
	require.ErrorContains(t, dl.errs[0], "after 3 attempts")
}

func TestSubmit_BackPressure(t *testing.T) {
	cfg := fastConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	d := New(cfg)

	release := make(chan struct{})
	started := make(chan struct{})
	block := Job{Key: "k", Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, d.Submit(context.Background(), block))
	<-started

	noop := Job{Key: "k", Name: "noop", Run: func(context.Context) error { return nil }}
	require.NoError(t, d.Submit(context.Background(), noop))
	require.ErrorIs(t, d.Submit(context.Background(), noop), ErrQueueFull)

	close(release)
	closeDispatcher(t, d)
}

func TestSubmit_AfterClose(t *testing.T) {
	d := New(fastConfig())
	closeDispatcher(t, d)

	err := d.Submit(context.Background(), Job{Key: "k", Run: func(context.Context) error { return nil }})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, d.Close(context.Background()))
}

func TestSubmit_RequiresRun(t *testing.T) {
	d := New(fastConfig())
	defer closeDispatcher(t, d)
	require.ErrorContains(t, d.Submit(context.Background(), Job{Key: "k"}), "no Run func")
}

func TestClose_TimeoutCancelsRunningJobs(t *testing.T) {
	d := New(fastConfig())
	started := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), Job{Key: "k", Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestShard_Stable(t *testing.T) {
	require.Equal(t, shard("919876543210", 8), shard("919876543210", 8))
	for i := 0; i < 100; i++ {
		s := shard(fmt.Sprint(i), 8)
		require.GreaterOrEqual(t, s, 0)
		require.Less(t, s, 8)
	}
}
