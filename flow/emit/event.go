// Package emit delivers observability events from pipeline execution to
// pluggable backends.
package emit

// Event is one observability event emitted during a pipeline run: stage
// start/finish, checkpoint saves, gate verdicts, remediation outcomes,
// and unit-local failures.
type Event struct {
	// JobID identifies the pipeline run that emitted this event.
	JobID string

	// Stage names the stage the event relates to. Empty for job-level
	// events (run started, run finished, run aborted).
	Stage string

	// UnitID identifies the work unit, for unit-scoped events. Empty
	// for stage- and job-level events.
	UnitID string

	// Msg is a short machine-stable event name, e.g. "stage_complete",
	// "checkpoint_saved", "gate_failed", "remediation_succeeded".
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "duration_ms": stage or call duration
	//   - "error": error details
	//   - "version": checkpoint version
	//   - "fidelity": gate fidelity score
	//   - "attempts": resilient-call attempt count
	Meta map[string]interface{}
}
