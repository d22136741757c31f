// Package retry runs downstream calls under a small exponential backoff
// budget. Only errors classified as transient are retried.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop.
type Policy struct {
	// Retries is the number of attempts after the first one.
	Retries int
	// Initial is the first backoff interval.
	Initial time.Duration
	// Max caps a single backoff interval.
	Max time.Duration
	// Timeout bounds each individual attempt. Zero disables it.
	Timeout time.Duration
}

// DefaultPolicy is used by components that are not configured explicitly.
func DefaultPolicy() Policy {
	return Policy{Retries: 2, Initial: 200 * time.Millisecond, Max: 2 * time.Second, Timeout: 10 * time.Second}
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is worth retrying: context deadline on the
// attempt itself, or an error exposing Temporary() true.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a non-transient error, the budget is
// spent or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return DoIf(ctx, p, IsTransient, fn)
}

// DoIf is Do with a caller-supplied classification.
func DoIf(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		eb.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	eb.MaxElapsedTime = 0

	retries := p.Retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	op := func() error {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, b)
}
