package flow

import (
	"context"
	"fmt"
	"time"
)

// CallFunc is any external call the resilience executor can wrap. The call
// must respect context cancellation, since retries stop as soon as the
// surrounding context is done.
type CallFunc[T any] func(ctx context.Context) (T, error)

// CallReport describes how a resilient call played out. Tests and metrics
// use it to assert attempt counts.
type CallReport struct {
	// Attempts is the number of primary-call attempts made.
	Attempts int

	// Retries is Attempts-1 when the primary eventually succeeded, or
	// the number of retries spent before exhaustion.
	Retries int

	// UsedFallback is true when the fallback call produced the result.
	UsedFallback bool

	// LastErr is the final primary-call error, kept even when the
	// fallback rescued the call.
	LastErr error
}

// ExecuteWithFallback wraps an external call with bounded retries and an
// optional secondary-provider fallback.
//
// The primary call is attempted up to policy.MaxAttempts times, with
// exponential backoff and jitter between attempts. Only errors the policy
// classifies as retryable are retried; auth and quota failures propagate
// immediately as terminal, without consuming the fallback.
//
// When the primary's attempts are exhausted, fallback (if non-nil) is
// invoked exactly once with identical arguments. If it also fails, the
// returned error wraps ErrRetriesExhausted and is never retryable, so an
// outer layer cannot multiply the attempt budget.
func ExecuteWithFallback[T any](ctx context.Context, policy RetryPolicy, primary, fallback CallFunc[T]) (T, CallReport, error) {
	var zero T
	report := CallReport{}

	if policy.MaxAttempts == 0 && policy.BaseDelay == 0 {
		policy = DefaultRetryPolicy()
	}
	if err := policy.Validate(); err != nil {
		return zero, report, err
	}
	shouldRetry := policy.retryable()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			report.LastErr = err
			return zero, report, err
		}

		report.Attempts++
		out, err := primary(ctx)
		if err == nil {
			report.Retries = report.Attempts - 1
			return out, report, nil
		}
		lastErr = err
		report.LastErr = err

		if !shouldRetry(err) {
			if Classify(err) == ClassTerminal {
				// Not worth a fallback either: the secondary
				// provider shares the same credentials/config
				// failure mode.
				return zero, report, err
			}
			break
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := computeBackoff(attempt, policy.BaseDelay, policy.MaxDelay, nil)
		select {
		case <-ctx.Done():
			report.LastErr = ctx.Err()
			return zero, report, ctx.Err()
		case <-time.After(delay):
		}
	}
	report.Retries = report.Attempts - 1

	if fallback != nil {
		out, err := fallback(ctx)
		if err == nil {
			report.UsedFallback = true
			return out, report, nil
		}
		return zero, report, fmt.Errorf("%w: primary failed after %d attempts (%v); fallback failed: %v",
			ErrRetriesExhausted, report.Attempts, lastErr, err)
	}

	return zero, report, fmt.Errorf("%w: %d attempts, last error: %v", ErrRetriesExhausted, report.Attempts, lastErr)
}
