package anthropic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dshills/bookflow-go/flow/provider"
)

func TestNew(t *testing.T) {
	if _, err := New("", DefaultModel); err == nil {
		t.Error("empty API key accepted")
	}

	c, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "anthropic" {
		t.Errorf("name = %q", c.Name())
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  string
		retryable bool
		fatal     bool
	}{
		{"auth failure", errors.New("401 unauthorized: invalid x-api-key"), "invalid_api_key", false, true},
		{"quota", errors.New("your credit balance is too low, check billing"), "quota_exceeded", false, true},
		{"rate limit", errors.New("429 Too Many Requests"), "rate_limited", true, false},
		{"overloaded", errors.New("529 overloaded_error"), "server_error", true, false},
		{"server error", errors.New("500 internal error"), "server_error", true, false},
		{"connection", errors.New("connection reset by peer"), "network_error", true, false},
		{"unclassified", errors.New("something odd happened"), "api_error", false, false},
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
			if !errors.Is(mapped, tc.err) {
				t.Error("cause not preserved")
			}
		})
	}

	t.Run("cancellation passes through", func(t *testing.T) {
		if got := mapError(context.Canceled); !errors.Is(got, context.Canceled) {
			t.Errorf("got %v", got)
		}
		var perr *provider.Error
		if errors.As(mapError(context.Canceled), &perr) {
			t.Error("cancellation wrapped as a provider error")
		}
	})

	t.Run("deadline is transient", func(t *testing.T) {
		var perr *provider.Error
		if !errors.As(mapError(context.DeadlineExceeded), &perr) || !perr.Retryable() {
			t.Error("deadline not mapped to a retryable timeout")
		}
	})
}

func TestPrompts(t *testing.T) {
	t.Run("transform prompt carries instructions and payload", func(t *testing.T) {
		p := buildTransformPrompt(provider.TransformRequest{
			Instructions: "modernize the prose",
			Payload:      "It is a truth universally acknowledged",
		})
		for _, want := range []string{"modernize the prose", "It is a truth universally acknowledged"} {
			if !strings.Contains(p, want) {
				t.Errorf("prompt missing %q", want)
			}
		}
	})

	t.Run("validate prompt requests the report fields", func(t *testing.T) {
		p := buildValidatePrompt("original text", "transformed text")
		for _, want := range []string{"original text", "transformed text", "fidelity", "readability", "issues"} {
			if !strings.Contains(p, want) {
				t.Errorf("prompt missing %q", want)
			}
		}
	})
}
