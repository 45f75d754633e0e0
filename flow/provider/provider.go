// Package provider defines the narrow interfaces through which the engine
// consumes external text-generation and validation services, plus a shared
// error type that carries retryability classification.
package provider

import "context"

// TransformRequest carries one work unit's payload to a transform provider.
type TransformRequest struct {
	// UnitID identifies the unit, for provider-side logging only.
	UnitID string

	// Payload is the source text to transform.
	Payload string

	// Instructions is the transform directive. On a remediation attempt
	// the engine embeds the failing issues here; the provider itself
	// never needs to know it is remediating.
	Instructions string
}

// TransformProvider produces a transformed payload for a unit.
//
// Implementations must not retry internally: resilience wrapping is the
// engine's responsibility, and nested retry layers multiply worst-case
// latency. Errors should be *Error values so the engine can classify them.
type TransformProvider interface {
	// Transform produces the transformed payload.
	Transform(ctx context.Context, req TransformRequest) (string, error)

	// Name identifies the provider in events and reports.
	Name() string
}

// Issue is one problem a validator found in a transformed payload.
type Issue struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// Report is the partial quality report a validator returns. The engine's
// gate evaluator merges it with its own deterministic local checks.
type Report struct {
	// Fidelity scores how faithfully the transformed text preserves the
	// original, 0-100.
	Fidelity int `json:"fidelity"`

	// Readability is the secondary metric (a reading-grade level).
	Readability float64 `json:"readability"`

	// Issues lists the problems found, with severities.
	Issues []Issue `json:"issues"`

	// Confidence is the validator's confidence in its own assessment.
	Confidence float64 `json:"confidence,omitempty"`

	// Reasoning is the validator's free-form rationale.
	Reasoning string `json:"reasoning,omitempty"`
}

// Validator scores a transformed payload against its original.
type Validator interface {
	// Validate compares original and transformed text and returns a
	// partial quality report.
	Validate(ctx context.Context, original, transformed string) (Report, error)

	// Name identifies the validator in events and reports.
	Name() string
}

// Error is a classified provider failure.
//
// Retryable errors (timeouts, rate limits, overloaded servers) are retried
// by the engine's resilience executor. Fatal errors (bad credentials,
// quota exhaustion) abort the job immediately. Errors that are neither are
// unit-local: the unit is recorded failed and the job continues.
type Error struct {
	// Code is a machine-readable error code: "rate_limited", "timeout",
	// "invalid_api_key", "quota_exceeded", "parse_error", "api_error".
	Code string

	// Message is the human-readable description.
	Message string

	// Provider names the provider that produced the error.
	Provider string

	// retryable and fatalErr drive the engine's classification.
	retryable bool
	fatalErr  bool

	// Cause is the underlying SDK error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return e.Provider + " " + e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying SDK error.
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is worth retrying.
func (e *Error) Retryable() bool { return e.retryable }

// Fatal reports whether the failure must abort the job.
func (e *Error) Fatal() bool { return e.fatalErr }

// NewTransientError creates a retryable provider error (timeouts, rate
// limits, server overload).
func NewTransientError(providerName, code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Provider: providerName, retryable: true, Cause: cause}
}

// NewTerminalError creates a fatal provider error (bad credentials,
// quota exhaustion, invalid configuration).
func NewTerminalError(providerName, code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Provider: providerName, fatalErr: true, Cause: cause}
}

// NewUnitError creates a provider error that is neither retryable nor
// fatal, such as an unparseable response for one unit.
func NewUnitError(providerName, code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Provider: providerName, Cause: cause}
}
