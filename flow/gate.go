package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/bookflow-go/flow/provider"
)

// Severity grades an issue found during quality evaluation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is one problem recorded against a unit's transformed payload.
type Issue struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// QualityReport is the outcome of evaluating one unit's output. A unit
// accumulates at most two: the original evaluation plus one remediation
// re-evaluation.
type QualityReport struct {
	// FidelityScore is the primary metric, 0-100.
	FidelityScore int `json:"fidelity_score"`

	// ReadabilityGrade is the secondary metric (reading-grade level).
	ReadabilityGrade float64 `json:"readability_grade"`

	// Issues lists everything found, pass or fail. Non-critical issues
	// are recorded but do not by themselves fail the unit.
	Issues []Issue `json:"issues,omitempty"`

	// Passed is the graduated-gate verdict.
	Passed bool `json:"passed"`

	// Remediated marks a report produced by the remediation re-check.
	Remediated bool `json:"remediated,omitempty"`

	// Validator names the external validator consulted.
	Validator string `json:"validator,omitempty"`

	// Confidence is the validator's self-reported confidence.
	Confidence float64 `json:"confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CriticalIssues returns the subset of issues with critical severity.
func (r *QualityReport) CriticalIssues() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == SeverityCritical {
			out = append(out, issue)
		}
	}
	return out
}

// Thresholds configures the quality gate. The numeric defaults are policy
// starting points, overridable per job.
type Thresholds struct {
	// MinFidelity is the minimum passing fidelity score.
	MinFidelity int `json:"min_fidelity"`

	// MinReadability and MaxReadability bound the secondary metric.
	// Outside the range fails the unit; borderline values inside it are
	// merely recorded.
	MinReadability float64 `json:"min_readability"`
	MaxReadability float64 `json:"max_readability"`
}

// DefaultThresholds returns the stock gate policy: fidelity at least 95,
// readability grade between 5 and 12.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinFidelity:    95,
		MinReadability: 5.0,
		MaxReadability: 12.0,
	}
}

// Validate checks the thresholds are coherent.
func (t Thresholds) Validate() error {
	if t.MinFidelity < 0 || t.MinFidelity > 100 {
		return fmt.Errorf("min_fidelity must be in [0,100], got %d", t.MinFidelity)
	}
	if t.MaxReadability > 0 && t.MinReadability > t.MaxReadability {
		return fmt.Errorf("min_readability %.1f exceeds max_readability %.1f", t.MinReadability, t.MaxReadability)
	}
	return nil
}

// Verdict applies the graduated gate to a report and sets its Passed flag.
//
// A unit fails only when (a) any critical issue exists, (b) the fidelity
// score is below MinFidelity, or (c) the readability grade falls outside
// the configured range. Everything softer is recorded but passing, so
// usable output is not discarded over stylistic disagreement while
// unacceptable output is still blocked.
func (t Thresholds) Verdict(r *QualityReport) bool {
	switch {
	case len(r.CriticalIssues()) > 0:
		r.Passed = false
	case r.FidelityScore < t.MinFidelity:
		r.Passed = false
	case r.ReadabilityGrade < t.MinReadability || (t.MaxReadability > 0 && r.ReadabilityGrade > t.MaxReadability):
		r.Passed = false
	default:
		r.Passed = true
	}
	return r.Passed
}

// GateEvaluator scores a unit's output by combining a deterministic local
// check with a delegated check to an external validator.
type GateEvaluator struct {
	validator  provider.Validator
	thresholds Thresholds
}

// NewGateEvaluator creates a gate evaluator. A nil validator is rejected
// at Evaluate time rather than construction, matching lazy engine
// validation elsewhere.
func NewGateEvaluator(v provider.Validator, t Thresholds) *GateEvaluator {
	return &GateEvaluator{validator: v, thresholds: t}
}

// Thresholds returns the evaluator's gate policy.
func (g *GateEvaluator) Thresholds() Thresholds { return g.thresholds }

// Evaluate scores the unit's transformed payload and returns its quality
// report with the verdict applied. The unit itself is not mutated; the
// caller decides how to record the report and advance the gate state.
func (g *GateEvaluator) Evaluate(ctx context.Context, unit *WorkUnit) (QualityReport, error) {
	report := QualityReport{CreatedAt: time.Now().UTC()}

	if g.validator == nil {
		return report, errors.New("gate evaluator has no validator")
	}

	// Deterministic local checks first. An empty payload is a critical
	// issue regardless of what a validator might claim about it; a
	// suspicious length ratio is recorded but does not fail the unit.
	report.Issues = append(report.Issues, localIssues(unit)...)

	if unit.Transformed != "" {
		delegated, err := g.validator.Validate(ctx, unit.Source, unit.Transformed)
		if err != nil {
			return report, err
		}
		report.FidelityScore = delegated.Fidelity
		report.ReadabilityGrade = delegated.Readability
		report.Confidence = delegated.Confidence
		report.Validator = g.validator.Name()
		for _, issue := range delegated.Issues {
			report.Issues = append(report.Issues, Issue{
				Type:        issue.Type,
				Description: issue.Description,
				Severity:    Severity(issue.Severity),
				Suggestion:  issue.Suggestion,
			})
		}
	}

	g.thresholds.Verdict(&report)
	return report, nil
}

// localIssues runs the deterministic checks that need no external call.
func localIssues(unit *WorkUnit) []Issue {
	var issues []Issue

	if unit.Transformed == "" {
		issues = append(issues, Issue{
			Type:        "empty_output",
			Description: "transformed payload is empty",
			Severity:    SeverityCritical,
		})
		return issues
	}

	if len(unit.Source) > 0 {
		ratio := float64(len(unit.Transformed)) / float64(len(unit.Source))
		if ratio < 0.5 || ratio > 2.0 {
			issues = append(issues, Issue{
				Type:        "length_ratio",
				Description: fmt.Sprintf("transformed/source length ratio %.2f outside [0.5, 2.0]", ratio),
				Severity:    SeverityMedium,
				Suggestion:  "verify no content was dropped or invented",
			})
		}
	}

	return issues
}
