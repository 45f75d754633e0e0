package google

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/bookflow-go/flow/provider"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  string
		retryable bool
		fatal     bool
	}{
		{"bad key", errors.New("API key not valid"), "invalid_api_key", false, true},
		{"unauthenticated", errors.New("rpc error: code = Unauthenticated"), "invalid_api_key", false, true},
		{"quota", errors.New("quota exceeded for this project"), "quota_exceeded", false, true},
		{"resource exhausted", errors.New("rpc error: code = Resource Exhausted"), "rate_limited", true, false},
		{"unavailable", errors.New("rpc error: code = Unavailable"), "server_error", true, false},
		{"unclassified", errors.New("candidate blocked by safety settings"), "api_error", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapError(tc.err)
			var perr *provider.Error
			if !errors.As(mapped, &perr) {
				t.Fatalf("mapError returned %T", mapped)
			}
			if perr.Code != tc.wantCode {
				t.Errorf("code = %q, want %q", perr.Code, tc.wantCode)
			}
			if perr.Retryable() != tc.retryable || perr.Fatal() != tc.fatal {
				t.Errorf("retryable=%v fatal=%v", perr.Retryable(), perr.Fatal())
			}
		})
	}

	t.Run("cancellation passes through", func(t *testing.T) {
		if got := mapError(context.Canceled); !errors.Is(got, context.Canceled) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("deadline is transient", func(t *testing.T) {
		var perr *provider.Error
		if !errors.As(mapError(context.DeadlineExceeded), &perr) || !perr.Retryable() {
			t.Error("deadline not mapped to a retryable timeout")
		}
	})
}

func TestValidatePrompt(t *testing.T) {
	prompt := buildValidatePrompt("the original chapter", "the transformed chapter")

	for _, want := range []string{
		"the original chapter",
		"the transformed chapter",
		"fidelity",
		"readability",
		"issues",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
