package provider

import (
	"context"
	"strings"
	"testing"
)

func TestParseReport(t *testing.T) {
	t.Run("bare json", func(t *testing.T) {
		raw := `{"fidelity": 96, "readability": 7.5, "confidence": 0.9, "issues": [
			{"type": "tone", "description": "slightly formal", "severity": "low"}
		]}`

		report, err := ParseReport(raw)
		if err != nil {
			t.Fatalf("ParseReport: %v", err)
		}
		if report.Fidelity != 96 || report.Readability != 7.5 {
			t.Errorf("report = %+v", report)
		}
		if len(report.Issues) != 1 || report.Issues[0].Severity != "low" {
			t.Errorf("issues = %+v", report.Issues)
		}
	})

	t.Run("json wrapped in prose and fences", func(t *testing.T) {
		raw := "Here is my assessment:\n```json\n{\"fidelity\": 88, \"readability\": 9.1, \"issues\": []}\n```\nLet me know if you need more."

		report, err := ParseReport(raw)
		if err != nil {
			t.Fatalf("ParseReport: %v", err)
		}
		if report.Fidelity != 88 {
			t.Errorf("fidelity = %d", report.Fidelity)
		}
	})

	t.Run("missing required field fails schema", func(t *testing.T) {
		if _, err := ParseReport(`{"fidelity": 90, "issues": []}`); err == nil {
			t.Error("report without readability accepted")
		}
	})

	t.Run("fidelity out of range fails schema", func(t *testing.T) {
		if _, err := ParseReport(`{"fidelity": 150, "readability": 8.0, "issues": []}`); err == nil {
			t.Error("fidelity above 100 accepted")
		}
	})

	t.Run("unknown severity fails schema", func(t *testing.T) {
		raw := `{"fidelity": 90, "readability": 8.0, "issues": [
			{"type": "x", "description": "y", "severity": "catastrophic"}
		]}`
		if _, err := ParseReport(raw); err == nil {
			t.Error("unknown severity accepted")
		}
	})

	t.Run("no json object at all", func(t *testing.T) {
		if _, err := ParseReport("I could not evaluate this text."); err == nil {
			t.Error("prose without JSON accepted")
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		if _, err := ParseReport(`{"fidelity": 90, "readability":`); err == nil {
			t.Error("truncated JSON accepted")
		}
	})
}

func TestProviderError(t *testing.T) {
	t.Run("classification accessors", func(t *testing.T) {
		transient := NewTransientError("anthropic", "rate_limited", "429", nil)
		if !transient.Retryable() || transient.Fatal() {
			t.Error("transient error misclassified")
		}

		terminal := NewTerminalError("anthropic", "invalid_api_key", "denied", nil)
		if terminal.Retryable() || !terminal.Fatal() {
			t.Error("terminal error misclassified")
		}

		unitErr := NewUnitError("openai", "parse_error", "garbled", nil)
		if unitErr.Retryable() || unitErr.Fatal() {
			t.Error("unit error misclassified")
		}
	})

	t.Run("error text includes provider and code", func(t *testing.T) {
		err := NewTransientError("openai", "server_error", "500 from upstream", nil)
		msg := err.Error()
		if !strings.Contains(msg, "openai") || !strings.Contains(msg, "server_error") {
			t.Errorf("msg = %q", msg)
		}
	})
}

func TestMockTransform(t *testing.T) {
	t.Run("fails first then succeeds", func(t *testing.T) {
		m := &MockTransform{
			Responses: []string{"ok"},
			FailFirst: 2,
			FailErr:   NewTransientError("mock", "server_error", "500", nil),
		}

		ctx := context.Background()
		for i := 0; i < 2; i++ {
			if _, err := m.Transform(ctx, TransformRequest{}); err == nil {
				t.Fatalf("call %d should have failed", i)
			}
		}
		out, err := m.Transform(ctx, TransformRequest{})
		if err != nil || out != "ok" {
			t.Errorf("out=%q err=%v", out, err)
		}
		if m.CallCount() != 3 {
			t.Errorf("calls = %d", m.CallCount())
		}
	})

	t.Run("echoes payload without canned responses", func(t *testing.T) {
		m := &MockTransform{}
		out, err := m.Transform(context.Background(), TransformRequest{Payload: "hello"})
		if err != nil || out != "hello" {
			t.Errorf("out=%q err=%v", out, err)
		}
	})
}
