package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/bookflow-go/flow"
)

// ErrNothingToRemediate indicates no unit of the job is awaiting its
// remediation attempt.
var ErrNothingToRemediate = errors.New("no units awaiting remediation")

// RemediateJob runs the remediation stage standalone against a job's
// latest checkpoint, outside the normal graph flow. It exists for the
// operator who fixed a threshold or provider problem after a run
// finished degraded: units still in their first-pass failure state get
// their single remediation attempt, and the job is re-packaged.
//
// Units already settled (passed or twice-failed) are untouched; the
// single-attempt limit holds across invocations because it is encoded in
// the gate state machine, not in this call.
func (p *Pipeline) RemediateJob(ctx context.Context, jobID string) (*flow.State, flow.JobReport, error) {
	if !p.cfg.Stages.Remediation {
		return nil, flow.JobReport{}, errors.New("remediation stage is disabled")
	}

	state, _, err := p.engine.LatestState(ctx, jobID)
	if err != nil {
		return nil, flow.JobReport{}, err
	}
	state.Set(flow.KeyJobID, jobID)

	units, err := flow.UnitsFromState(state)
	if err != nil {
		return nil, flow.JobReport{}, fmt.Errorf("job %s has no units to remediate: %w", jobID, err)
	}
	pending := 0
	for _, unit := range units {
		if unit.Gate == flow.GateFailedFirstPass {
			pending++
		}
	}
	if pending == 0 {
		return state, reportFromState(jobID, state), ErrNothingToRemediate
	}

	state, err = p.remediateStage(ctx, state)
	if err != nil {
		return state, flow.JobReport{}, err
	}
	state, err = p.packageStage(ctx, state)
	if err != nil {
		return state, flow.JobReport{}, err
	}

	// Persist the outcome as a fresh checkpoint so status and resume see
	// the remediated units.
	if err := p.engine.SaveStateCheckpoint(ctx, jobID, StagePackage, state); err != nil {
		return state, flow.JobReport{}, fmt.Errorf("job %s: checkpoint save after remediation: %w", jobID, err)
	}
	return state, reportFromState(jobID, state), nil
}
