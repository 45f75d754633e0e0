package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/bookflow-go/flow"
	"github.com/dshills/bookflow-go/flow/provider"
	"github.com/dshills/bookflow-go/flow/store"
)

// Stage names. The graph is assembled from these in New; disabled stages
// never appear in it.
const (
	StageSplit       = "split"
	StageTransform   = "transform"
	StageQualityGate = "quality_gate"
	StageRemediate   = "remediate"
	StagePackage     = "package"
)

// State keys owned by the pipeline, on top of the flow package's keys.
const (
	// KeySourceText holds the job's input document.
	KeySourceText = "source_text"
	// KeyTitle holds the document title.
	KeyTitle = "title"
	// KeyOutput holds the assembled transformed document.
	KeyOutput = "output"
)

// splitStage splits the source document into work units.
func (p *Pipeline) splitStage(_ context.Context, s *flow.State) (*flow.State, error) {
	jobID := s.GetString(flow.KeyJobID, "")
	text := s.GetString(KeySourceText, "")
	if text == "" {
		return nil, flow.NewTerminal(StageSplit, jobID, errors.New("no source text in state"))
	}

	units := SplitDocument(text)
	if len(units) == 0 {
		return nil, flow.NewTerminal(StageSplit, jobID, errors.New("document produced no work units"))
	}
	flow.PutUnits(s, units)
	return s, nil
}

// transformUnit transforms one work unit, consulting the artifact store
// first so a resumed job never re-spends an external call on a unit whose
// artifact is already durable.
func (p *Pipeline) transformUnit(ctx context.Context, jobID string, unit flow.WorkUnit) (flow.WorkUnit, error) {
	if unit.Status == flow.UnitDone || unit.Status == flow.UnitSkipped {
		return unit, nil
	}

	artifact, err := p.store.LoadArtifact(ctx, jobID, unit.ID, StageTransform)
	if err == nil {
		unit.Transformed = string(artifact)
		unit.Status = flow.UnitSkipped
		return unit, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return unit, fmt.Errorf("artifact lookup for unit %s: %w", unit.ID, err)
	}

	req := provider.TransformRequest{
		UnitID:       unit.ID,
		Payload:      unit.Source,
		Instructions: p.cfg.Transform.Instructions,
	}
	primary := func(ctx context.Context) (string, error) {
		return p.transform.Transform(ctx, req)
	}
	var fallback flow.CallFunc[string]
	if p.fallback != nil {
		fallback = func(ctx context.Context) (string, error) {
			return p.fallback.Transform(ctx, req)
		}
	}

	out, report, err := flow.ExecuteWithFallback(ctx, p.policy, primary, fallback)
	p.countRetries(jobID, StageTransform, report)
	if err != nil {
		if flow.Classify(err) == flow.ClassTerminal && !errors.Is(err, flow.ErrRetriesExhausted) {
			// Credentials or quota: the whole job is doomed, not just
			// this unit.
			return unit, err
		}
		return unit, flow.NewUnitLocal(StageTransform, jobID, unit.ID, err)
	}

	// The artifact must be durable before the unit is marked done, or a
	// crash between the two would re-spend the call on resume.
	if err := p.store.SaveArtifact(ctx, jobID, unit.ID, StageTransform, []byte(out)); err != nil {
		return unit, fmt.Errorf("artifact save for unit %s: %w", unit.ID, err)
	}
	unit.Transformed = out
	unit.Status = flow.UnitDone
	return unit, nil
}

// qualityGateStage evaluates every transformed unit against the gate and
// records the job-level verdict flag.
func (p *Pipeline) qualityGateStage(ctx context.Context, s *flow.State) (*flow.State, error) {
	jobID := s.GetString(flow.KeyJobID, "")
	units, err := flow.UnitsFromState(s)
	if err != nil {
		return nil, flow.NewTerminal(StageQualityGate, jobID, err)
	}

	tasks := make([]flow.Task[flow.WorkUnit], len(units))
	for i := range units {
		unit := units[i]
		tasks[i] = func(ctx context.Context) (flow.WorkUnit, error) {
			return p.evaluateUnit(ctx, jobID, unit)
		}
	}

	results := flow.RunBounded(ctx, tasks, p.cfg.Concurrency.MaxUnits, p.cfg.PerUnitTimeout())
	for _, res := range results {
		if res.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !res.TimedOut && flow.Classify(res.Err) == flow.ClassTerminal {
				return nil, res.Err
			}
			// The unit could not be evaluated. It is not passed; the
			// remediation stage gets a chance to transform and re-check.
			unit := &units[res.Index]
			if unit.Gate == flow.GatePendingEval {
				_ = unit.AdvanceGate(flow.GateFailedFirstPass)
			}
			unit.Err = res.Err.Error()
			flow.AppendError(s, fmt.Sprintf("stage %s unit %s: %v", StageQualityGate, unit.ID, res.Err))
			continue
		}
		units[res.Index] = res.Value
	}

	flow.PutUnits(s, units)
	s.Set(flow.KeyQualityGatePassed, allUnitsPassed(units))
	return s, nil
}

// evaluateUnit scores one unit and advances its gate state. Units that
// failed transformation are left alone; they are already degraded. A
// report already in the artifact store is replayed instead of re-spending
// a validator call, so a job resumed mid-gate only evaluates the units it
// had not reached.
func (p *Pipeline) evaluateUnit(ctx context.Context, jobID string, unit flow.WorkUnit) (flow.WorkUnit, error) {
	if unit.Status == flow.UnitFailed || unit.Gate != flow.GatePendingEval {
		return unit, nil
	}

	if payload, err := p.store.LoadArtifact(ctx, jobID, unit.ID, StageQualityGate); err == nil {
		var report flow.QualityReport
		if json.Unmarshal(payload, &report) == nil {
			err := p.settleGate(jobID, &unit, report)
			return unit, err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return unit, fmt.Errorf("report lookup for unit %s: %w", unit.ID, err)
	}

	report, err := p.gate.Evaluate(ctx, &unit)
	if err != nil {
		return unit, err
	}

	// The report must be durable before the unit's gate state moves, or
	// a crash between the two would re-spend the validator call on
	// resume.
	payload, err := json.Marshal(report)
	if err != nil {
		return unit, fmt.Errorf("report encode for unit %s: %w", unit.ID, err)
	}
	if err := p.store.SaveArtifact(ctx, jobID, unit.ID, StageQualityGate, payload); err != nil {
		return unit, fmt.Errorf("report save for unit %s: %w", unit.ID, err)
	}
	settleErr := p.settleGate(jobID, &unit, report)
	return unit, settleErr
}

// settleGate records a quality report and moves the unit's gate state to
// its first-pass verdict.
func (p *Pipeline) settleGate(jobID string, unit *flow.WorkUnit, report flow.QualityReport) error {
	if err := unit.AddReport(report); err != nil {
		return err
	}
	if report.Passed {
		return unit.AdvanceGate(flow.GatePassed)
	}
	if err := unit.AdvanceGate(flow.GateFailedFirstPass); err != nil {
		return err
	}
	p.countGateFailure(jobID, "first_pass")
	return nil
}

// remediateStage gives each first-pass failure its single remediation
// attempt and refreshes the job-level verdict flag.
func (p *Pipeline) remediateStage(ctx context.Context, s *flow.State) (*flow.State, error) {
	jobID := s.GetString(flow.KeyJobID, "")
	units, err := flow.UnitsFromState(s)
	if err != nil {
		return nil, flow.NewTerminal(StageRemediate, jobID, err)
	}

	tasks := make([]flow.Task[flow.WorkUnit], len(units))
	for i := range units {
		unit := units[i]
		tasks[i] = func(ctx context.Context) (flow.WorkUnit, error) {
			return p.remediateUnit(ctx, jobID, unit)
		}
	}

	results := flow.RunBounded(ctx, tasks, p.cfg.Concurrency.MaxUnits, p.cfg.PerUnitTimeout())
	for _, res := range results {
		if res.Err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !res.TimedOut && flow.Classify(res.Err) == flow.ClassTerminal {
				return nil, res.Err
			}
			unit := &units[res.Index]
			unit.Err = res.Err.Error()
			flow.AppendError(s, fmt.Sprintf("stage %s unit %s: %v", StageRemediate, unit.ID, res.Err))
			continue
		}
		units[res.Index] = res.Value
	}

	flow.PutUnits(s, units)
	s.Set(flow.KeyQualityGatePassed, allUnitsPassed(units))
	return s, nil
}

// remediateUnit runs one unit's remediation round and persists the
// surviving artifact.
func (p *Pipeline) remediateUnit(ctx context.Context, jobID string, unit flow.WorkUnit) (flow.WorkUnit, error) {
	if unit.Gate != flow.GateFailedFirstPass {
		return unit, nil
	}

	if err := p.remediator.Remediate(ctx, &unit, p.cfg.Transform.Instructions); err != nil {
		return unit, err
	}

	switch unit.Gate {
	case flow.GatePassed:
		p.countRemediation(jobID, "passed")
	case flow.GateFailedFinal:
		p.countRemediation(jobID, "failed")
		p.countGateFailure(jobID, "final")
	}

	// The surviving artifact may be the remediated one; keep the store
	// in sync with whatever the unit settled on.
	if unit.Transformed != "" {
		if err := p.store.SaveArtifact(ctx, jobID, unit.ID, StageTransform, []byte(unit.Transformed)); err != nil {
			return unit, fmt.Errorf("artifact save for unit %s: %w", unit.ID, err)
		}
	}
	return unit, nil
}

// packageStage assembles the final document and the job report. Failed
// units are omitted from the output and enumerated in the report, so a
// degraded completion is never mistaken for a full success.
func (p *Pipeline) packageStage(_ context.Context, s *flow.State) (*flow.State, error) {
	jobID := s.GetString(flow.KeyJobID, "")
	units, err := flow.UnitsFromState(s)
	if err != nil {
		return nil, flow.NewTerminal(StagePackage, jobID, err)
	}

	var sb strings.Builder
	for _, unit := range units {
		if unit.Status == flow.UnitFailed || unit.Transformed == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(unit.Transformed)
	}
	s.Set(KeyOutput, sb.String())

	report := flow.BuildJobReport(jobID, units)
	if !p.cfg.Stages.QualityGate {
		// Without a gate no unit ever reaches a pass verdict; the only
		// claim made is that every unit was produced.
		produced := true
		for _, unit := range units {
			if unit.Status == flow.UnitFailed {
				produced = false
				break
			}
		}
		report.QualityPassed = produced
		s.Set(flow.KeyQualityGatePassed, produced)
	}
	s.Set(flow.KeyJobReport, report)
	return s, nil
}

// allUnitsPassed is the job-level gate flag: the AND of every unit's pass
// status. A failed or unevaluated unit makes the job not-passed.
func allUnitsPassed(units []flow.WorkUnit) bool {
	for _, unit := range units {
		if !unit.Passed() {
			return false
		}
	}
	return true
}

func (p *Pipeline) countRetries(jobID, stage string, report flow.CallReport) {
	if p.metrics == nil {
		return
	}
	for i := 0; i < report.Retries; i++ {
		p.metrics.IncrementRetries(jobID, stage, "transient")
	}
}

func (p *Pipeline) countGateFailure(jobID, verdict string) {
	if p.metrics != nil {
		p.metrics.IncrementGateFailures(jobID, verdict)
	}
}

func (p *Pipeline) countRemediation(jobID, outcome string) {
	if p.metrics != nil {
		p.metrics.IncrementRemediations(jobID, outcome)
	}
}
