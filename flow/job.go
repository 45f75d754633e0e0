package flow

import (
	"fmt"
	"time"
)

// JobStatus describes the overall outcome of a pipeline run.
type JobStatus string

const (
	// JobRunning indicates the job is executing or resumable.
	JobRunning JobStatus = "running"
	// JobSucceeded indicates every unit passed its quality gate.
	JobSucceeded JobStatus = "succeeded"
	// JobFailed indicates a terminal error aborted the job.
	JobFailed JobStatus = "failed"
	// JobPartial indicates the job reached its terminal stage with some
	// units degraded or omitted.
	JobPartial JobStatus = "partial"
)

// UnitStatus describes the processing state of a single work unit.
type UnitStatus string

const (
	// UnitPending indicates the unit has not been transformed yet.
	UnitPending UnitStatus = "pending"
	// UnitDone indicates the unit's artifact has been persisted.
	UnitDone UnitStatus = "done"
	// UnitFailed indicates the unit could not be produced.
	UnitFailed UnitStatus = "failed"
	// UnitSkipped indicates a stored artifact was reused instead of
	// reprocessing the unit.
	UnitSkipped UnitStatus = "skipped"
)

// GateState is the per-unit quality-gate state machine value.
//
// Legal transitions:
//
//	GatePendingEval → GatePassed                      (terminal)
//	GatePendingEval → GateFailedFirstPass
//	GateFailedFirstPass → GateRemediating
//	GateRemediating → GatePassed | GateFailedFinal    (both terminal)
//
// There is no second remediation attempt: a twice-failing unit is
// GateFailedFinal and the job proceeds with the best available artifact.
type GateState string

const (
	GatePendingEval     GateState = "PENDING_EVAL"
	GatePassed          GateState = "PASSED"
	GateFailedFirstPass GateState = "FAILED_FIRST_PASS"
	GateRemediating     GateState = "REMEDIATING"
	GateFailedFinal     GateState = "FAILED_FINAL"
)

var gateTransitions = map[GateState][]GateState{
	GatePendingEval:     {GatePassed, GateFailedFirstPass},
	GateFailedFirstPass: {GateRemediating},
	GateRemediating:     {GatePassed, GateFailedFinal},
}

// WorkUnit is one independently processable piece of a job, such as one
// chapter of a document. Units are mutated by the stages that touch them
// and superseded, never deleted.
type WorkUnit struct {
	// ID uniquely identifies the unit within its job.
	ID string `json:"id"`

	// Index is the unit's position in the job's original order. Fan-out
	// results are reassembled by Index so downstream stages see a
	// deterministic sequence.
	Index int `json:"index"`

	// Title is an optional human-readable label (e.g. a chapter title).
	Title string `json:"title,omitempty"`

	// Source is the unit's original payload.
	Source string `json:"source"`

	// Transformed is the transformed payload. Empty until the transform
	// stage has produced it.
	Transformed string `json:"transformed,omitempty"`

	// Reports holds the unit's quality reports: the original evaluation
	// and at most one remediation re-evaluation.
	Reports []QualityReport `json:"reports,omitempty"`

	// Status is the unit's processing status.
	Status UnitStatus `json:"status"`

	// Gate is the unit's position in the quality-gate state machine.
	Gate GateState `json:"gate"`

	// Err records why the unit failed, for the job report.
	Err string `json:"err,omitempty"`
}

// NewWorkUnit creates a pending unit awaiting evaluation.
func NewWorkUnit(id string, index int, source string) WorkUnit {
	return WorkUnit{
		ID:     id,
		Index:  index,
		Source: source,
		Status: UnitPending,
		Gate:   GatePendingEval,
	}
}

// AdvanceGate moves the unit to the given gate state, enforcing the legal
// transitions of the quality-gate state machine.
func (u *WorkUnit) AdvanceGate(to GateState) error {
	for _, next := range gateTransitions[u.Gate] {
		if next == to {
			u.Gate = to
			return nil
		}
	}
	return fmt.Errorf("illegal gate transition %s -> %s for unit %s", u.Gate, to, u.ID)
}

// AddReport appends a quality report. A unit holds at most two reports:
// the original evaluation plus one remediation attempt.
func (u *WorkUnit) AddReport(r QualityReport) error {
	if len(u.Reports) >= 2 {
		return fmt.Errorf("unit %s already has %d quality reports", u.ID, len(u.Reports))
	}
	u.Reports = append(u.Reports, r)
	return nil
}

// LatestReport returns the most recent quality report, or nil if the unit
// has not been evaluated.
func (u *WorkUnit) LatestReport() *QualityReport {
	if len(u.Reports) == 0 {
		return nil
	}
	return &u.Reports[len(u.Reports)-1]
}

// Passed reports whether the unit's latest evaluation passed the gate.
// An unevaluated unit has not passed.
func (u *WorkUnit) Passed() bool {
	return u.Gate == GatePassed
}

// Job is one end-to-end pipeline run over one input document. Jobs are
// created on run start and never deleted.
type Job struct {
	ID           string    `json:"id"`
	UnitIDs      []string  `json:"unit_ids"`
	CurrentStage string    `json:"current_stage"`
	Status       JobStatus `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// UnitSummary is one unit's line in a job report.
type UnitSummary struct {
	UnitID   string     `json:"unit_id"`
	Index    int        `json:"index"`
	Status   UnitStatus `json:"status"`
	Gate     GateState  `json:"gate"`
	Fidelity int        `json:"fidelity,omitempty"`
	Issues   int        `json:"issues,omitempty"`
	Degraded bool       `json:"degraded"`
}

// JobReport enumerates every unit's outcome so a job finishing with
// degraded or omitted units never looks like a silent full success.
type JobReport struct {
	JobID string `json:"job_id"`

	// QualityPassed is the logical AND of all units' pass status. A job
	// may complete with this flag false while still producing a usable,
	// partially degraded deliverable.
	QualityPassed bool `json:"quality_passed"`

	Units    []UnitSummary `json:"units"`
	Degraded []string      `json:"degraded,omitempty"`
	Omitted  []string      `json:"omitted,omitempty"`
}

// BuildJobReport summarizes the units of a job. Units whose gate state is
// GateFailedFinal are listed as degraded; units that failed outright
// (no artifact produced) are listed as omitted.
func BuildJobReport(jobID string, units []WorkUnit) JobReport {
	report := JobReport{JobID: jobID, QualityPassed: true}
	for _, u := range units {
		summary := UnitSummary{
			UnitID: u.ID,
			Index:  u.Index,
			Status: u.Status,
			Gate:   u.Gate,
		}
		if latest := u.LatestReport(); latest != nil {
			summary.Fidelity = latest.FidelityScore
			summary.Issues = len(latest.Issues)
		}
		switch {
		case u.Status == UnitFailed:
			summary.Degraded = true
			report.Omitted = append(report.Omitted, u.ID)
			report.QualityPassed = false
		case u.Gate == GateFailedFinal:
			summary.Degraded = true
			report.Degraded = append(report.Degraded, u.ID)
			report.QualityPassed = false
		case u.Gate != GatePassed:
			report.QualityPassed = false
		}
		report.Units = append(report.Units, summary)
	}
	return report
}

// State keys shared between the engine and pipeline stages. Every reader
// of these keys goes through a Get* accessor with an explicit default.
const (
	// KeyUnits holds the job's []WorkUnit.
	KeyUnits = "units"
	// KeyQualityGatePassed is the job-level gate flag: the AND of all
	// units' pass status. Readers must default it to false.
	KeyQualityGatePassed = "quality_gate_passed"
	// KeyJobReport holds the final JobReport.
	KeyJobReport = "job_report"
	// KeyErrors accumulates unit-local error descriptions.
	KeyErrors = "errors"
)

// UnitsFromState decodes the job's work units from state.
func UnitsFromState(s *State) ([]WorkUnit, error) {
	var units []WorkUnit
	if _, ok := s.Get(KeyUnits); !ok {
		return nil, fmt.Errorf("state has no %q key (did the split stage run?)", KeyUnits)
	}
	if err := s.decode(KeyUnits, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// PutUnits writes the job's work units back into state, preserving unit
// order by Index.
func PutUnits(s *State, units []WorkUnit) {
	s.Set(KeyUnits, units)
}

// AppendError records a unit-local failure description in state so the job
// can continue while the degradation stays visible.
func AppendError(s *State, msg string) {
	var errs []string
	if _, ok := s.Get(KeyErrors); ok {
		// Best effort: a malformed errors key is replaced rather than
		// aborting the job over bookkeeping.
		_ = s.decode(KeyErrors, &errs)
	}
	errs = append(errs, msg)
	s.Set(KeyErrors, errs)
}
