// Package scheduler runs keyed, delayed tasks that can be cancelled before
// they fire. At most one task is pending per key.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type task struct {
	id     uint64
	timer  *time.Timer
	cancel context.CancelFunc
}

type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	seq     uint64
	stopped bool

	base      context.Context
	cancelAll context.CancelFunc
	running   sync.WaitGroup
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:     map[string]*task{},
		base:      base,
		cancelAll: cancel,
		logger:    logger,
	}
}

// Schedule runs fn after delay. A task already pending for key is cancelled
// and replaced. fn receives a context that is cancelled by Stop.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Warn("scheduler stopped, task dropped", zap.String("key", key))
		return
	}
	if prev, ok := s.tasks[key]; ok {
		s.stopLocked(key, prev)
	}

	s.seq++
	ctx, cancel := context.WithCancel(s.base)
	t := &task{id: s.seq, cancel: cancel}
	s.running.Add(1)
	t.timer = time.AfterFunc(delay, func() { s.fire(ctx, key, t, fn) })
	s.tasks[key] = t
}

func (s *Scheduler) fire(ctx context.Context, key string, t *task, fn func(ctx context.Context)) {
	defer s.running.Done()
	defer t.cancel()

	s.mu.Lock()
	current, ok := s.tasks[key]
	if ok && current.id == t.id {
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	if !ok || current.id != t.id || ctx.Err() != nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	fn(ctx)
}

// Cancel drops the pending task for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	s.stopLocked(key, t)
	return true
}

func (s *Scheduler) stopLocked(key string, t *task) {
	delete(s.tasks, key)
	t.cancel()
	if t.timer.Stop() {
		s.running.Done()
	}
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels every pending task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, t := range s.tasks {
		s.stopLocked(key, t)
	}
	s.mu.Unlock()

	s.cancelAll()
	s.running.Wait()
}
