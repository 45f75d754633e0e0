package pipeline

import (
	"context"
	"fmt"

	"github.com/dshills/bookflow-go/flow"
)

// JobStatus summarizes a job's persisted progress for the status query.
type JobStatus struct {
	JobID string `json:"job_id"`

	// Stage is the last stage whose checkpoint is durable.
	Stage string `json:"stage"`

	// Version is the checkpointed state version.
	Version int `json:"version"`

	// Status is the inferred job status.
	Status flow.JobStatus `json:"status"`

	// Report enumerates unit outcomes when units exist yet.
	Report *flow.JobReport `json:"report,omitempty"`

	// Recommendation is the suggested operator action.
	Recommendation string `json:"recommendation"`
}

// Status reports a job's progress from its latest checkpoint without
// executing anything.
func (p *Pipeline) Status(ctx context.Context, jobID string) (JobStatus, error) {
	state, stage, err := p.engine.LatestState(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{
		JobID:   jobID,
		Stage:   stage,
		Version: state.Version,
	}

	units, unitsErr := flow.UnitsFromState(state)
	if unitsErr == nil {
		report := flow.BuildJobReport(jobID, units)
		status.Report = &report
	}

	if stage == StagePackage {
		switch {
		case status.Report == nil:
			status.Status = flow.JobFailed
			status.Recommendation = "packaged state has no units; inspect the event log"
		case status.Report.QualityPassed:
			status.Status = flow.JobSucceeded
			status.Recommendation = "complete"
		default:
			status.Status = flow.JobPartial
			status.Recommendation = fmt.Sprintf("complete with %d degraded and %d omitted units; review the job report",
				len(status.Report.Degraded), len(status.Report.Omitted))
		}
		return status, nil
	}

	status.Status = flow.JobRunning
	status.Recommendation = fmt.Sprintf("resumable from stage %s (checkpoint version %d); run resume to continue",
		stage, state.Version)
	return status, nil
}
