package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/bookflow-go/flow"
	"github.com/dshills/bookflow-go/flow/emit"
	"github.com/dshills/bookflow-go/flow/provider"
	"github.com/dshills/bookflow-go/flow/provider/anthropic"
	"github.com/dshills/bookflow-go/flow/provider/google"
	"github.com/dshills/bookflow-go/flow/provider/openai"
	"github.com/dshills/bookflow-go/flow/store"
)

// Deps carries the pipeline's injected collaborators. Tests wire mocks;
// production wiring comes from BuildDeps.
type Deps struct {
	Store     store.Store
	Emitter   emit.Emitter
	Transform provider.TransformProvider
	Fallback  provider.TransformProvider
	Validator provider.Validator
	Metrics   *flow.PrometheusMetrics
}

// Pipeline is the assembled book transformation pipeline.
type Pipeline struct {
	cfg        Config
	engine     *flow.Engine
	store      store.Store
	transform  provider.TransformProvider
	fallback   provider.TransformProvider
	gate       *flow.GateEvaluator
	remediator *flow.Remediator
	policy     flow.RetryPolicy
	metrics    *flow.PrometheusMetrics
}

// New assembles the stage graph for the given configuration.
//
// The graph is built, not filtered: a disabled quality gate or
// remediation stage is absent from the graph, and routing is declared
// accordingly. The quality gate's router reads the job-level verdict
// flag with a conservative default, so a missing flag routes down the
// failure path.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, errors.New("pipeline requires a store")
	}
	if deps.Transform == nil {
		return nil, errors.New("pipeline requires a transform provider")
	}
	if cfg.Stages.QualityGate && deps.Validator == nil {
		return nil, errors.New("pipeline requires a validator when the quality gate is enabled")
	}

	policy := cfg.RetryPolicy()
	gate := flow.NewGateEvaluator(deps.Validator, cfg.GateThresholds())

	p := &Pipeline{
		cfg:       cfg,
		store:     deps.Store,
		transform: deps.Transform,
		fallback:  deps.Fallback,
		gate:      gate,
		policy:    policy,
		metrics:   deps.Metrics,
	}
	p.remediator = flow.NewRemediator(deps.Transform, deps.Fallback, gate, policy)

	engine := flow.New(deps.Store, deps.Emitter, flow.Options{
		MaxConcurrency: cfg.Concurrency.MaxUnits,
		PerUnitTimeout: cfg.PerUnitTimeout(),
		Metrics:        deps.Metrics,
	})

	if err := p.assemble(engine); err != nil {
		return nil, err
	}
	p.engine = engine
	return p, nil
}

func (p *Pipeline) assemble(engine *flow.Engine) error {
	if err := engine.AddStage(StageSplit, p.splitStage); err != nil {
		return err
	}
	if err := engine.AddFanOutStage(StageTransform, p.transformUnit); err != nil {
		return err
	}
	if err := engine.AddStage(StagePackage, p.packageStage); err != nil {
		return err
	}
	if err := engine.SetEntry(StageSplit); err != nil {
		return err
	}
	if err := engine.Connect(StageSplit, StageTransform, nil); err != nil {
		return err
	}
	if err := engine.Connect(StagePackage, flow.End, nil); err != nil {
		return err
	}

	if !p.cfg.Stages.QualityGate {
		return engine.Connect(StageTransform, StagePackage, nil)
	}

	if err := engine.AddStage(StageQualityGate, p.qualityGateStage); err != nil {
		return err
	}
	if err := engine.Connect(StageTransform, StageQualityGate, nil); err != nil {
		return err
	}

	if !p.cfg.Stages.Remediation {
		// No remediation: both verdicts proceed to packaging, failures
		// surfacing in the job report.
		return engine.Connect(StageQualityGate, StagePackage, nil)
	}

	if err := engine.AddStage(StageRemediate, p.remediateStage); err != nil {
		return err
	}
	if err := engine.ConnectRouter(StageQualityGate,
		flow.BoolRouter(flow.KeyQualityGatePassed, StagePackage, StageRemediate)); err != nil {
		return err
	}
	return engine.Connect(StageRemediate, StagePackage, nil)
}

// Run executes a new job over the given source document and returns the
// final state and job report.
func (p *Pipeline) Run(ctx context.Context, jobID, title, sourceText string) (*flow.State, flow.JobReport, error) {
	initial := flow.NewState()
	initial.Set(KeySourceText, sourceText)
	initial.Set(KeyTitle, title)

	final, err := p.engine.Run(ctx, jobID, initial)
	if err != nil {
		return final, flow.JobReport{}, err
	}
	return final, reportFromState(jobID, final), nil
}

// Resume continues an interrupted job from its latest checkpoint.
func (p *Pipeline) Resume(ctx context.Context, jobID string) (*flow.State, flow.JobReport, error) {
	final, err := p.engine.Resume(ctx, jobID)
	if err != nil {
		return final, flow.JobReport{}, err
	}
	return final, reportFromState(jobID, final), nil
}

// reportFromState prefers the packaged report and falls back to building
// one from the units, so callers always get unit-level visibility.
func reportFromState(jobID string, s *flow.State) flow.JobReport {
	if s == nil {
		return flow.JobReport{JobID: jobID}
	}
	var report flow.JobReport
	if err := flow.DecodeStateKey(s, flow.KeyJobReport, &report); err == nil {
		return report
	}
	units, err := flow.UnitsFromState(s)
	if err != nil {
		return flow.JobReport{JobID: jobID}
	}
	return flow.BuildJobReport(jobID, units)
}

// BuildDeps constructs production collaborators from configuration:
// the storage backend and the configured SDK providers. The returned
// cleanup closes whatever was opened.
func BuildDeps(ctx context.Context, cfg Config, emitter emit.Emitter, metrics *flow.PrometheusMetrics) (Deps, func() error, error) {
	var cleanups []func() error
	cleanup := func() error {
		var firstErr error
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	st, err := buildStore(cfg)
	if err != nil {
		return Deps{}, cleanup, err
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		cleanups = append(cleanups, closer.Close)
	}

	transform, closeTransform, err := buildProvider(ctx, cfg, cfg.Providers.Primary)
	if err != nil {
		return Deps{}, cleanup, fmt.Errorf("primary provider: %w", err)
	}
	if closeTransform != nil {
		cleanups = append(cleanups, closeTransform)
	}

	var fallback provider.TransformProvider
	if cfg.Providers.Fallback != "" {
		var closeFallback func() error
		fallback, closeFallback, err = buildProvider(ctx, cfg, cfg.Providers.Fallback)
		if err != nil {
			return Deps{}, cleanup, fmt.Errorf("fallback provider: %w", err)
		}
		if closeFallback != nil {
			cleanups = append(cleanups, closeFallback)
		}
	}

	var validator provider.Validator
	if cfg.Stages.QualityGate {
		var closeValidator func() error
		validator, closeValidator, err = buildValidator(ctx, cfg)
		if err != nil {
			return Deps{}, cleanup, fmt.Errorf("validator: %w", err)
		}
		if closeValidator != nil {
			cleanups = append(cleanups, closeValidator)
		}
	}

	return Deps{
		Store:     st,
		Emitter:   emitter,
		Transform: transform,
		Fallback:  fallback,
		Validator: validator,
		Metrics:   metrics,
	}, cleanup, nil
}

func buildStore(cfg Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Storage.SQLitePath)
	case "mysql":
		return store.NewMySQLStore(cfg.Storage.MySQLDSN)
	case "memory":
		return store.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildProvider(ctx context.Context, cfg Config, name string) (provider.TransformProvider, func() error, error) {
	switch name {
	case "anthropic":
		client, err := anthropic.New(cfg.Providers.AnthropicAPIKey, cfg.Providers.AnthropicModel)
		return client, nil, err
	case "openai":
		client, err := openai.New(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIModel)
		return client, nil, err
	case "google":
		client, err := google.New(ctx, cfg.Providers.GoogleAPIKey, cfg.Providers.GoogleModel)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", name)
	}
}

func buildValidator(ctx context.Context, cfg Config) (provider.Validator, func() error, error) {
	switch cfg.Providers.Validator {
	case "anthropic":
		client, err := anthropic.New(cfg.Providers.AnthropicAPIKey, cfg.Providers.AnthropicModel)
		return client, nil, err
	case "openai":
		client, err := openai.New(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIModel)
		return client, nil, err
	case "google":
		client, err := google.New(ctx, cfg.Providers.GoogleAPIKey, cfg.Providers.GoogleModel)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown validator %q", cfg.Providers.Validator)
	}
}
