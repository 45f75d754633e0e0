package flow

import (
	"context"
	"errors"
	"fmt"
)

// ErrMaxStepsExceeded indicates the engine reached the maximum step count
// without finishing. This guards against routing cycles.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrNoRoute indicates a stage completed but no successor could be
// determined: a router returned an unknown stage or no edge was declared.
var ErrNoRoute = errors.New("no valid route from stage")

// ErrRetriesExhausted indicates the retry/fallback executor ran out of
// attempts on the primary call and either had no fallback or the fallback
// also failed. It is never retryable.
var ErrRetriesExhausted = errors.New("retries exhausted")

// ErrorClass is the three-way failure classification that drives engine
// control flow.
type ErrorClass int

const (
	// ClassTransient marks failures worth retrying: timeouts, rate
	// limits, server errors. The retry/fallback executor resolves these
	// before they ever reach the engine.
	ClassTransient ErrorClass = iota

	// ClassTerminal marks failures that abort the whole job immediately:
	// bad credentials, invalid configuration, quota exhaustion.
	ClassTerminal

	// ClassUnitLocal marks failures confined to one work unit. The unit
	// is recorded as failed and the job continues.
	ClassUnitLocal
)

// String returns the class name used in events and error text.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	case ClassUnitLocal:
		return "unit-local"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// StageError is a typed failure raised by a stage handler. It carries
// enough context for the engine to decide abort-vs-continue and for the
// operator to diagnose the failure afterwards.
type StageError struct {
	// Stage is the name of the stage that failed.
	Stage string

	// JobID identifies the job.
	JobID string

	// UnitID identifies the failing unit, empty for stage-wide failures.
	UnitID string

	// Class determines how the engine reacts.
	Class ErrorClass

	// Context holds structured diagnostic details.
	Context map[string]any

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("stage %s [%s]", e.Stage, e.Class)
	if e.UnitID != "" {
		msg += " unit " + e.UnitID
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a transient stage error.
func NewTransient(stage, jobID, unitID string, err error) *StageError {
	return &StageError{Stage: stage, JobID: jobID, UnitID: unitID, Class: ClassTransient, Err: err}
}

// NewTerminal wraps err as a terminal stage error that aborts the job.
func NewTerminal(stage, jobID string, err error) *StageError {
	return &StageError{Stage: stage, JobID: jobID, Class: ClassTerminal, Err: err}
}

// NewUnitLocal wraps err as a unit-local stage error: the unit is skipped
// and the job continues.
func NewUnitLocal(stage, jobID, unitID string, err error) *StageError {
	return &StageError{Stage: stage, JobID: jobID, UnitID: unitID, Class: ClassUnitLocal, Err: err}
}

// retryable is implemented by errors that know whether they are worth
// retrying. Provider errors implement this.
type retryable interface {
	Retryable() bool
}

// fatal is implemented by errors that must abort the job regardless of
// retry budget, such as authentication and quota failures.
type fatal interface {
	Fatal() bool
}

// IsTransient reports whether err is worth retrying.
//
// An error is transient when it is a StageError of ClassTransient, a
// context deadline (timeout), or implements Retryable() bool returning
// true. ErrRetriesExhausted is never transient, so nothing re-retries an
// already exhausted call.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Class == ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Classify maps an arbitrary error to its ErrorClass.
//
// StageErrors carry their class explicitly. Errors implementing
// Fatal() bool (auth, quota, invalid config) are terminal when Fatal
// reports true and unit-local otherwise; a provider that could classify
// its failure and found it neither fatal nor retryable is describing a
// single bad response, not a broken job. Retryable errors and timeouts
// are transient. Everything else is conservatively terminal: an unknown
// failure aborts the job rather than silently degrading it.
func Classify(err error) ErrorClass {
	var se *StageError
	if errors.As(err, &se) {
		return se.Class
	}
	if IsTransient(err) {
		return ClassTransient
	}
	var f fatal
	if errors.As(err, &f) {
		if f.Fatal() {
			return ClassTerminal
		}
		return ClassUnitLocal
	}
	return ClassTerminal
}
