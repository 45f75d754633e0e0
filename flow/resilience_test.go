package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/bookflow-go/flow/provider"
)

// fastPolicy keeps test retries in the microsecond range.
func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Microsecond, MaxDelay: time.Millisecond}
}

func TestExecuteWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("first attempt succeeds", func(t *testing.T) {
		out, report, err := ExecuteWithFallback(ctx, fastPolicy(3), func(ctx context.Context) (string, error) {
			return "done", nil
		}, nil)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if out != "done" {
			t.Errorf("out = %q", out)
		}
		if report.Attempts != 1 || report.Retries != 0 || report.UsedFallback {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		calls := 0
		out, report, err := ExecuteWithFallback(ctx, fastPolicy(3), func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", provider.NewTransientError("mock", "server_error", "500", nil)
			}
			return "recovered", nil
		}, nil)
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if out != "recovered" {
			t.Errorf("out = %q", out)
		}
		if report.Attempts != 3 || report.Retries != 2 {
			t.Errorf("report = %+v, want 3 attempts 2 retries", report)
		}
	})

	t.Run("terminal error skips retries and fallback", func(t *testing.T) {
		authErr := provider.NewTerminalError("mock", "invalid_api_key", "denied", nil)
		fallbackCalled := false
		_, report, err := ExecuteWithFallback(ctx, fastPolicy(3), func(ctx context.Context) (string, error) {
			return "", authErr
		}, func(ctx context.Context) (string, error) {
			fallbackCalled = true
			return "should not happen", nil
		})
		if !errors.Is(err, authErr) {
			t.Fatalf("err = %v, want the auth error", err)
		}
		if report.Attempts != 1 {
			t.Errorf("attempts = %d, want 1", report.Attempts)
		}
		if fallbackCalled {
			t.Error("fallback invoked despite terminal error")
		}
	})

	t.Run("fallback rescues exhausted primary", func(t *testing.T) {
		primaryCalls := 0
		out, report, err := ExecuteWithFallback(ctx, fastPolicy(2), func(ctx context.Context) (string, error) {
			primaryCalls++
			return "", provider.NewTransientError("mock", "rate_limited", "429", nil)
		}, func(ctx context.Context) (string, error) {
			return "from fallback", nil
		})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if out != "from fallback" {
			t.Errorf("out = %q", out)
		}
		if primaryCalls != 2 {
			t.Errorf("primary calls = %d, want 2", primaryCalls)
		}
		if !report.UsedFallback {
			t.Error("report does not record fallback use")
		}
		if report.LastErr == nil {
			t.Error("primary failure dropped from report")
		}
	})

	t.Run("both exhausted wraps ErrRetriesExhausted", func(t *testing.T) {
		_, _, err := ExecuteWithFallback(ctx, fastPolicy(2), func(ctx context.Context) (string, error) {
			return "", provider.NewTransientError("mock", "timeout", "slow", nil)
		}, func(ctx context.Context) (string, error) {
			return "", provider.NewTransientError("mock2", "timeout", "also slow", nil)
		})
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("err = %v, want ErrRetriesExhausted", err)
		}
		if IsTransient(err) {
			t.Error("exhausted result must not be retryable by an outer layer")
		}
	})

	t.Run("unit-local error goes straight to fallback", func(t *testing.T) {
		primaryCalls := 0
		out, _, err := ExecuteWithFallback(ctx, fastPolicy(3), func(ctx context.Context) (string, error) {
			primaryCalls++
			return "", provider.NewUnitError("mock", "parse_error", "garbled", nil)
		}, func(ctx context.Context) (string, error) {
			return "rescued", nil
		})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if out != "rescued" {
			t.Errorf("out = %q", out)
		}
		if primaryCalls != 1 {
			t.Errorf("primary calls = %d; non-retryable errors must not be retried", primaryCalls)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		calls := 0
		_, _, err := ExecuteWithFallback(cctx, fastPolicy(5), func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", provider.NewTransientError("mock", "timeout", "slow", nil)
		}, nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})

	t.Run("invalid policy is rejected", func(t *testing.T) {
		_, _, err := ExecuteWithFallback(ctx, RetryPolicy{MaxAttempts: -2, BaseDelay: time.Microsecond}, func(ctx context.Context) (string, error) {
			return "x", nil
		}, nil)
		if !errors.Is(err, ErrInvalidRetryPolicy) {
			t.Fatalf("err = %v, want ErrInvalidRetryPolicy", err)
		}
	})

	t.Run("zero policy uses defaults", func(t *testing.T) {
		out, report, err := ExecuteWithFallback(ctx, RetryPolicy{}, func(ctx context.Context) (string, error) {
			return "ok", nil
		}, nil)
		if err != nil || out != "ok" || report.Attempts != 1 {
			t.Errorf("out=%q report=%+v err=%v", out, report, err)
		}
	})
}
