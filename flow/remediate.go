package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/bookflow-go/flow/provider"
)

// Remediator retries the transformation of units that failed their first
// quality evaluation, exactly once per unit per job, with instructions
// enhanced by the specific issues the gate found.
type Remediator struct {
	transform provider.TransformProvider
	fallback  provider.TransformProvider
	gate      *GateEvaluator
	policy    RetryPolicy
}

// NewRemediator creates a remediation controller. fallback may be nil.
func NewRemediator(t provider.TransformProvider, fallback provider.TransformProvider, gate *GateEvaluator, policy RetryPolicy) *Remediator {
	return &Remediator{transform: t, fallback: fallback, gate: gate, policy: policy}
}

// Remediate re-transforms a unit that is in GateFailedFirstPass, re-runs
// the quality evaluation on the new output, and settles the unit's gate
// state. It is the one remediation the unit will ever get: on a second
// failure the unit moves to GateFailedFinal and keeps whichever artifact
// scored higher, so the job can finish degraded instead of aborting.
//
// Transient transform failures during remediation still get the retry
// policy and fallback provider; the single-attempt limit bounds
// remediation rounds, not network retries within one round.
func (r *Remediator) Remediate(ctx context.Context, unit *WorkUnit, instructions string) error {
	if unit.Gate != GateFailedFirstPass {
		return fmt.Errorf("unit %s is %s, not eligible for remediation", unit.ID, unit.Gate)
	}
	// A unit whose first evaluation errored out carries no report. It
	// still gets its remediation round, just with the base instructions
	// and nothing to compare the new artifact against.
	var issues []Issue
	firstScore := -1
	if firstReport := unit.LatestReport(); firstReport != nil {
		issues = firstReport.Issues
		firstScore = firstReport.FidelityScore
	}
	if err := unit.AdvanceGate(GateRemediating); err != nil {
		return err
	}

	req := provider.TransformRequest{
		UnitID:       unit.ID,
		Payload:      unit.Source,
		Instructions: BuildRemediationInstructions(instructions, issues),
	}

	primary := func(ctx context.Context) (string, error) {
		return r.transform.Transform(ctx, req)
	}
	var fb CallFunc[string]
	if r.fallback != nil {
		fb = func(ctx context.Context) (string, error) {
			return r.fallback.Transform(ctx, req)
		}
	}

	firstArtifact := unit.Transformed
	out, _, err := ExecuteWithFallback(ctx, r.policy, primary, fb)
	if err != nil {
		// The remediation round itself failed. The unit keeps its first
		// artifact and settles as degraded; the error surfaces in the
		// job report, not as a job abort.
		unit.Err = fmt.Sprintf("remediation transform failed: %v", err)
		return unit.AdvanceGate(GateFailedFinal)
	}

	unit.Transformed = out
	report, err := r.gate.Evaluate(ctx, unit)
	if err != nil {
		unit.Transformed = firstArtifact
		unit.Err = fmt.Sprintf("remediation re-evaluation failed: %v", err)
		return unit.AdvanceGate(GateFailedFinal)
	}
	report.Remediated = true
	if addErr := unit.AddReport(report); addErr != nil {
		return addErr
	}

	if report.Passed {
		return unit.AdvanceGate(GatePassed)
	}

	// Both rounds failed. Keep whichever artifact scored higher so the
	// deliverable degrades as little as possible.
	if report.FidelityScore < firstScore {
		unit.Transformed = firstArtifact
	}
	return unit.AdvanceGate(GateFailedFinal)
}

// BuildRemediationInstructions augments the base transform instructions
// with the concrete issues the quality gate reported, so the retry targets
// what actually failed instead of repeating the original prompt.
func BuildRemediationInstructions(base string, issues []Issue) string {
	if len(issues) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nA previous attempt was rejected by quality review. Address these issues:\n")
	for _, issue := range issues {
		fmt.Fprintf(&b, "- [%s] %s: %s", issue.Severity, issue.Type, issue.Description)
		if issue.Suggestion != "" {
			fmt.Fprintf(&b, " (suggestion: %s)", issue.Suggestion)
		}
		b.WriteString("\n")
	}
	return b.String()
}
