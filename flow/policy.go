package flow

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy indicates a RetryPolicy with impossible settings.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy configures the retry/fallback executor. It is the single
// source of truth for attempt counts: providers and stages must not layer
// their own retry loops on top of it, or worst-case latency multiplies
// unpredictably.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of primary-call attempts,
	// including the initial attempt. Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between
	// retries. The actual delay is min(BaseDelay * 2^attempt, MaxDelay)
	// plus jitter in [0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth retrying. If nil,
	// IsTransient is used, which retries timeouts, rate limits, and
	// server errors but never auth or quota failures.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used when a caller passes a zero
// RetryPolicy: three attempts, 500ms base delay, 30s cap.
//
// Callers wrapping calls that run under a per-task timeout must keep
// per-call timeout × (MaxAttempts + 1 fallback) below that task timeout,
// or the task is cancelled mid-resilience.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Validate checks the policy's constraints: MaxAttempts >= 1, and when
// both delays are set, MaxDelay >= BaseDelay.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if p.MaxDelay > 0 && p.BaseDelay > 0 && p.MaxDelay < p.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// retryable returns the policy's retry predicate, defaulting to IsTransient.
func (p RetryPolicy) retryable() func(error) bool {
	if p.Retryable != nil {
		return p.Retryable
	}
	return IsTransient
}

// computeBackoff calculates the delay before retry attempt n (zero-based)
// using exponential backoff with jitter:
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// The jitter randomizes retry timing across concurrent units so they do
// not hammer a recovering service in lockstep.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	// Bit shift for 2^attempt; clamp the shift so large attempt counts
	// cannot overflow into a negative duration.
	shift := attempt
	if shift > 16 {
		shift = 16
	}
	delay := base * (1 << shift)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter timing, not security
	}

	return delay + jitter
}
