package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cvtreharne-cvt/fortaleza-purchase-agent/browser"
)

// retryPolicy is a fixed attempt count with a fixed delay between attempts.
type retryPolicy struct {
	attempts int
	delay    time.Duration
	notify   func(err error, next time.Duration)
}

// isTransient reports whether err is worth another attempt: a transient
// collaborator error or a per-call timeout while the run itself is live.
func isTransient(parent context.Context, err error) bool {
	if errors.Is(err, browser.ErrTransient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}

// callWithRetry runs fn with a per-attempt timeout. Only transient failures
// are retried; everything else is returned on the first occurrence.
func callWithRetry[T any](ctx context.Context, p retryPolicy, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	op := func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil && !isTransient(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.delay)),
		backoff.WithMaxTries(uint(attempts)),
	}
	if p.notify != nil {
		opts = append(opts, backoff.WithNotify(p.notify))
	}
	return backoff.Retry[T](ctx, op, opts...)
}

// callOnce runs fn a single time with a timeout.
func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
