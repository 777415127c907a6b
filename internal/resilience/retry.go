// Package resilience provides the jittered-retry combinator used by every
// mutating call against the Buckets/Results services, ported from the
// teacher's generic Retry[T] helper.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/chimefrb/workflow/internal/telemetry"
)

// permanentError marks an error that Retry must surface immediately instead
// of retrying, per spec.md §7: "InvalidRequest ... never retried."
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Retry stops on the first attempt instead of
// consuming the retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// JitterMin and JitterMax bound the uniform random backoff between attempts,
// per spec.md §4.1: "random jitter 0.5-1.5 s".
const (
	JitterMin = 500 * time.Millisecond
	JitterMax = 1500 * time.Millisecond
	// Deadline is the overall retry budget, per spec.md §4.1/§7: "overall
	// deadline 30 s, re-raising the last error if the deadline elapses."
	Deadline = 30 * time.Second
)

// Retry runs fn until it succeeds, ctx is cancelled, or Deadline elapses
// since the first attempt, sleeping a uniform random jitter in
// [JitterMin, JitterMax] between attempts. The last error is returned if the
// deadline elapses; ctx.Err() is returned if ctx is cancelled first.
func Retry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(Deadline)
	meter := telemetry.Meter()
	attempts, _ := meter.Int64Counter("workflow_retry_attempts_total")
	successes, _ := meter.Int64Counter("workflow_retry_success_total")
	failures, _ := meter.Int64Counter("workflow_retry_fail_total")

	var lastErr error
	for {
		v, err := fn(ctx)
		attempts.Add(ctx, 1)
		if err == nil {
			successes.Add(ctx, 1)
			return v, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			failures.Add(ctx, 1)
			return zero, perm.Unwrap()
		}

		if time.Now().After(deadline) {
			failures.Add(ctx, 1)
			return zero, lastErr
		}

		sleep := JitterMin + time.Duration(rand.Int63n(int64(JitterMax-JitterMin)+1))
		remaining := time.Until(deadline)
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			failures.Add(ctx, 1)
			return zero, ctx.Err()
		case <-time.After(sleep):
		}
	}
}
