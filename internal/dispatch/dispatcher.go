// Package dispatch processes keyed jobs on a fixed set of workers. Jobs with
// the same key always land on the same worker, so they run one at a time and
// in submission order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"lead-qualifier/internal/metrics"
	"lead-qualifier/internal/retry"
)

var (
	ErrQueueFull = errors.New("dispatch: queue full")
	ErrClosed    = errors.New("dispatch: closed")
)

// Job is a unit of work. Run is called up to Config.Attempts times.
type Job struct {
	ID   string
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// DeadLetter receives jobs that failed every attempt.
type DeadLetter interface {
	DeadLetter(ctx context.Context, job Job, err error)
}

type Config struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	Attempts       int
	// Backoff is the first pause between attempts; it doubles up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// JobTimeout bounds a single attempt.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 2 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func WithDeadLetter(dl DeadLetter) Option {
	return func(d *Dispatcher) {
		if dl != nil {
			d.deadLetter = dl
		}
	}
}

type Dispatcher struct {
	cfg        Config
	queues     []chan Job
	logger     *zap.Logger
	metrics    *metrics.Metrics
	deadLetter DeadLetter
	tracer     trace.Tracer

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup

	base  context.Context
	abort context.CancelFunc
}

// New starts the workers. Close must be called to release them.
func New(cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	base, abort := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:     cfg,
		queues:  make([]chan Job, cfg.Workers),
		logger:  zap.NewNop(),
		metrics: metrics.New(),
		tracer:  otel.Tracer("lead-qualifier/dispatch"),
		base:    base,
		abort:   abort,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.deadLetter == nil {
		d.deadLetter = NewLogDeadLetter(d.logger, d.metrics)
	}

	for i := range d.queues {
		d.queues[i] = make(chan Job, cfg.QueueSize)
		d.workers.Add(1)
		go d.work(i, d.queues[i])
	}
	d.logger.Info("dispatcher started", zap.Int("workers", cfg.Workers), zap.Int("queue_size", cfg.QueueSize))
	return d
}

func shard(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Submit queues job on the worker owning job.Key. When that queue is full it
// waits up to the enqueue timeout and then fails with ErrQueueFull.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	if job.Run == nil {
		return errors.New("dispatch: job has no Run func")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	q := d.queues[shard(job.Key, len(d.queues))]
	select {
	case q <- job:
		d.metrics.QueueDepth.Inc()
		return nil
	default:
	}

	timer := time.NewTimer(d.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case q <- job:
		d.metrics.QueueDepth.Inc()
		return nil
	case <-timer.C:
		d.logger.Warn("dispatch queue full", zap.String("job", job.Name), zap.String("job_id", job.ID))
		return ErrQueueFull
	case <-ctx.Done():
		return fmt.Errorf("dispatch: submit: %w", ctx.Err())
	}
}

func (d *Dispatcher) work(idx int, q <-chan Job) {
	defer d.workers.Done()
	for job := range q {
		d.metrics.QueueDepth.Dec()
		d.process(idx, job)
	}
}

func (d *Dispatcher) process(idx int, job Job) {
	ctx, span := d.tracer.Start(d.base, "dispatch."+job.Name, trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("worker", idx),
	))
	defer span.End()

	attempts := 0
	policy := retry.Policy{
		Retries: d.cfg.Attempts - 1,
		Initial: d.cfg.Backoff,
		Max:     d.cfg.MaxBackoff,
		Timeout: d.cfg.JobTimeout,
	}
	err := retry.DoIf(ctx, policy, retryable, func(ctx context.Context) error {
		attempts++
		err := runSafe(ctx, job)
		if err != nil {
			d.logger.Warn("job attempt failed",
				zap.String("job", job.Name),
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		}
		return err
	})
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.deadLetter.DeadLetter(ctx, job, fmt.Errorf("after %d attempts: %w", attempts, err))
}

// retryable keeps retrying anything but an aborted dispatcher.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}

func runSafe(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Close stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, running jobs are cancelled and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.abort()
		d.logger.Info("dispatcher drained")
		return nil
	case <-ctx.Done():
		d.abort()
		<-done
		d.logger.Warn("dispatcher drain interrupted")
		return ctx.Err()
	}
}

// LogDeadLetter logs abandoned jobs and counts them.
type LogDeadLetter struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLogDeadLetter(logger *zap.Logger, m *metrics.Metrics) *LogDeadLetter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeadLetter{logger: logger, metrics: m}
}

func (l *LogDeadLetter) DeadLetter(_ context.Context, job Job, err error) {
	if l.metrics != nil {
		l.metrics.DeadLetters.Inc()
	}
	l.logger.Error("job dead-lettered",
		zap.String("job", job.Name),
		zap.String("job_id", job.ID),
		zap.Error(err),
	)
}
