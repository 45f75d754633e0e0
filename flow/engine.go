package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/bookflow-go/flow/emit"
	"github.com/dshills/bookflow-go/flow/store"
)

// End is the terminal route. A router or edge resolving to End finishes
// the job.
const End = "__end__"

// KeyJobID is the state key under which the engine records the running
// job's ID, so stage handlers and fan-out units can reach it.
const KeyJobID = "job_id"

// StageFunc is one stage of a pipeline. It receives the current flow
// state and returns the updated state. Errors are classified at the stage
// boundary: terminal errors abort the job, unit-local errors are recorded
// and the job continues.
type StageFunc func(ctx context.Context, s *State) (*State, error)

// UnitFunc processes one work unit inside a fan-out stage. Each
// invocation gets its own timeout context; failures are isolated to the
// unit unless classified terminal.
type UnitFunc func(ctx context.Context, jobID string, unit WorkUnit) (WorkUnit, error)

// Router picks the next stage after its stage completes, based only on
// flow state. Returning End finishes the job.
type Router func(s *State) string

// Edge is a conditional transition between stages. A nil When predicate
// always matches. Edges from the same stage are evaluated in declaration
// order; the first match wins.
type Edge struct {
	From string
	To   string
	When func(s *State) bool
}

// Options configures engine execution. Zero values get defaults.
type Options struct {
	// MaxSteps bounds the number of stage executions per run, guarding
	// against routing cycles. Zero means DefaultMaxSteps.
	MaxSteps int

	// MaxConcurrency is the fan-out ceiling. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// PerUnitTimeout bounds one unit's processing inside a fan-out
	// stage. Zero means no per-unit limit.
	PerUnitTimeout time.Duration

	// Metrics is optional; nil disables metric recording.
	Metrics *PrometheusMetrics
}

// DefaultMaxSteps bounds stage executions when Options.MaxSteps is zero.
const DefaultMaxSteps = 100

// Engine executes a stage graph over a flow state, checkpointing after
// every stage.
//
// The engine owns the durability contract: a stage's effects are visible
// to resume only once its checkpoint is saved, and the engine never
// proceeds past a stage whose checkpoint save failed. Crash recovery is
// Resume, which reloads the latest checkpoint and re-enters the graph at
// the edge leaving the checkpointed stage.
type Engine struct {
	mu      sync.RWMutex
	stages  map[string]StageFunc
	edges   []Edge
	routers map[string]Router
	entry   string

	store   store.Store
	emitter emit.Emitter
	opts    Options
}

// New creates an engine over the given store and emitter. The store is
// required for Run; the emitter may be nil. Configuration problems are
// reported by Run, not the constructor.
func New(st store.Store, emitter emit.Emitter, opts Options) *Engine {
	return &Engine{
		stages:  make(map[string]StageFunc),
		routers: make(map[string]Router),
		store:   st,
		emitter: emitter,
		opts:    opts,
	}
}

// AddStage registers a stage. Stage names must be unique and non-empty.
func (e *Engine) AddStage(name string, fn StageFunc) error {
	if name == "" {
		return fmt.Errorf("stage name cannot be empty")
	}
	if name == End {
		return fmt.Errorf("stage name %q is reserved", End)
	}
	if fn == nil {
		return fmt.Errorf("stage %s: handler cannot be nil", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.stages[name]; exists {
		return fmt.Errorf("duplicate stage: %s", name)
	}
	e.stages[name] = fn
	return nil
}

// AddFanOutStage registers a stage that applies fn to each work unit in
// state, under the engine's concurrency ceiling and per-unit timeout.
//
// Unit failures (including per-unit timeouts) mark that unit failed and
// let its siblings finish; only a terminal-classified error aborts the
// stage. Results are reassembled in unit order, so downstream stages see
// a deterministic sequence regardless of completion order.
func (e *Engine) AddFanOutStage(name string, fn UnitFunc) error {
	if fn == nil {
		return fmt.Errorf("stage %s: unit handler cannot be nil", name)
	}
	return e.AddStage(name, e.fanOut(name, fn))
}

func (e *Engine) fanOut(stage string, fn UnitFunc) StageFunc {
	return func(ctx context.Context, s *State) (*State, error) {
		jobID := s.GetString(KeyJobID, "")
		units, err := UnitsFromState(s)
		if err != nil {
			return nil, NewTerminal(stage, jobID, err)
		}

		tasks := make([]Task[WorkUnit], len(units))
		for i := range units {
			unit := units[i]
			tasks[i] = func(ctx context.Context) (WorkUnit, error) {
				return fn(ctx, jobID, unit)
			}
		}

		if e.opts.Metrics != nil {
			e.opts.Metrics.UpdateInflightUnits(len(units))
			defer e.opts.Metrics.UpdateInflightUnits(0)
		}

		results := RunBounded(ctx, tasks, e.opts.MaxConcurrency, e.opts.PerUnitTimeout)
		for _, res := range results {
			if res.Err == nil {
				units[res.Index] = res.Value
				continue
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !res.TimedOut && Classify(res.Err) == ClassTerminal {
				return nil, res.Err
			}

			// Unit-local failure, timeout included: the unit is marked
			// failed and its siblings' results stand.
			unit := &units[res.Index]
			unit.Status = UnitFailed
			unit.Err = res.Err.Error()
			AppendError(s, fmt.Sprintf("stage %s unit %s: %v", stage, unit.ID, res.Err))
			e.emit(emit.Event{
				JobID:  jobID,
				Stage:  stage,
				UnitID: unit.ID,
				Msg:    "unit_failed",
				Meta:   map[string]interface{}{"error": res.Err.Error(), "timed_out": res.TimedOut},
			})
		}

		PutUnits(s, units)
		return s, nil
	}
}

// SetEntry sets the stage Run starts at. The stage must already be
// registered.
func (e *Engine) SetEntry(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.stages[name]; !exists {
		return fmt.Errorf("entry stage does not exist: %s", name)
	}
	e.entry = name
	return nil
}

// Connect declares an edge from one stage to the next. A nil predicate
// is unconditional. to may be End.
func (e *Engine) Connect(from, to string, when func(s *State) bool) error {
	if from == "" || to == "" {
		return fmt.Errorf("edge endpoints cannot be empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.edges = append(e.edges, Edge{From: from, To: to, When: when})
	return nil
}

// ConnectRouter installs a router for a stage. The router takes
// precedence over edges declared from the same stage.
func (e *Engine) ConnectRouter(from string, r Router) error {
	if from == "" {
		return fmt.Errorf("router stage cannot be empty")
	}
	if r == nil {
		return fmt.Errorf("router for %s cannot be nil", from)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.routers[from]; exists {
		return fmt.Errorf("duplicate router for stage: %s", from)
	}
	e.routers[from] = r
	return nil
}

// BoolRouter returns a Router that reads a boolean state key and picks
// between two stages. A missing or mistyped key reads as false, so an
// upstream stage that never wrote its flag routes down the failure path,
// never the success path.
func BoolRouter(key, whenTrue, whenFalse string) Router {
	return func(s *State) string {
		if s.GetBool(key, false) {
			return whenTrue
		}
		return whenFalse
	}
}

// Run executes the stage graph for a new job until a route resolves to
// End or a terminal error aborts it.
//
// After every stage the engine increments the state version and saves a
// checkpoint; execution does not proceed past a stage until its
// checkpoint save has succeeded. The returned state is the last known
// state in both the success and the abort case; on abort the error names
// the failing stage.
func (e *Engine) Run(ctx context.Context, jobID string, initial *State) (*State, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	if initial == nil {
		initial = NewState()
	}
	initial.Set(KeyJobID, jobID)

	e.emit(emit.Event{JobID: jobID, Msg: "run_started", Meta: map[string]interface{}{"entry": e.entry}})
	return e.execute(ctx, jobID, e.entry, initial)
}

// Resume continues a crashed or interrupted job from its latest
// checkpoint.
//
// The checkpointed stage's work is already durable, so resume re-enters
// the graph at the route leaving that stage, evaluated against the
// restored state. Resuming a job whose last checkpoint already routes to
// End returns the final state without executing anything, so resume is
// idempotent.
func (e *Engine) Resume(ctx context.Context, jobID string) (*State, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	cp, err := e.store.LoadLatestCheckpoint(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("cannot resume job %s: %w", jobID, err)
	}
	state := NewState()
	if err := json.Unmarshal(cp.State, state); err != nil {
		return nil, fmt.Errorf("cannot resume job %s: corrupt checkpoint: %w", jobID, err)
	}
	state.Set(KeyJobID, jobID)

	next, err := e.route(cp.Stage, state)
	if err != nil {
		return nil, err
	}
	e.emit(emit.Event{JobID: jobID, Stage: cp.Stage, Msg: "run_resumed", Meta: map[string]interface{}{
		"version": cp.Version,
		"next":    next,
	}})
	if next == End {
		return state, nil
	}
	return e.execute(ctx, jobID, next, state)
}

// LatestState loads the job's most recent checkpointed state, for status
// queries and standalone remediation. Returns store.ErrNotFound (wrapped)
// for unknown jobs.
func (e *Engine) LatestState(ctx context.Context, jobID string) (*State, string, error) {
	cp, err := e.store.LoadLatestCheckpoint(ctx, jobID)
	if err != nil {
		return nil, "", fmt.Errorf("job %s: %w", jobID, err)
	}
	state := NewState()
	if err := json.Unmarshal(cp.State, state); err != nil {
		return nil, "", fmt.Errorf("job %s: corrupt checkpoint: %w", jobID, err)
	}
	return state, cp.Stage, nil
}

// SaveStateCheckpoint persists state as the job's next checkpoint
// version, attributed to stage. It exists for out-of-band state changes
// such as standalone remediation; the engine checkpoints its own stage
// executions itself.
func (e *Engine) SaveStateCheckpoint(ctx context.Context, jobID, stage string, state *State) error {
	if e.store == nil {
		return fmt.Errorf("engine requires a store")
	}
	return e.saveCheckpoint(ctx, jobID, stage, state)
}

func (e *Engine) validate() error {
	if e.store == nil {
		return fmt.Errorf("engine requires a store")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.entry == "" {
		return fmt.Errorf("entry stage not set (call SetEntry before Run)")
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, jobID, current string, state *State) (*State, error) {
	maxSteps := e.opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	for step := 1; ; step++ {
		if step > maxSteps {
			return state, fmt.Errorf("%w (%d) in job %s at stage %s", ErrMaxStepsExceeded, maxSteps, jobID, current)
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}

		e.mu.RLock()
		fn, exists := e.stages[current]
		e.mu.RUnlock()
		if !exists {
			return state, fmt.Errorf("stage not found during execution: %s", current)
		}

		start := time.Now()
		next, err := fn(ctx, state)
		elapsed := time.Since(start)

		if err != nil {
			switch Classify(err) {
			case ClassUnitLocal:
				// Confined to work units; the stage's surviving output
				// stands and the job continues.
				if next != nil {
					state = next
				}
				AppendError(state, fmt.Sprintf("stage %s: %v", current, err))
				e.recordStage(jobID, current, elapsed, "error")
				e.emit(emit.Event{JobID: jobID, Stage: current, Msg: "stage_degraded",
					Meta: map[string]interface{}{"error": err.Error()}})
			default:
				// Terminal (or unclassifiable) failure. Nothing is
				// saved here: the latest durable checkpoint names the
				// last completed stage, so a later Resume re-enters
				// the graph at this stage and retries it.
				e.recordStage(jobID, current, elapsed, "error")
				e.emit(emit.Event{JobID: jobID, Stage: current, Msg: "run_aborted",
					Meta: map[string]interface{}{"error": err.Error(), "class": Classify(err).String()}})
				return state, fmt.Errorf("job %s aborted at stage %s: %w", jobID, current, err)
			}
		} else {
			state = next
			e.recordStage(jobID, current, elapsed, "success")
		}

		// Durability barrier: the job does not move past this stage until
		// its checkpoint is saved.
		if err := e.saveCheckpoint(ctx, jobID, current, state); err != nil {
			return state, fmt.Errorf("job %s: checkpoint save failed after stage %s: %w", jobID, current, err)
		}

		nextStage, err := e.route(current, state)
		if err != nil {
			return state, err
		}
		if nextStage == End {
			e.emit(emit.Event{JobID: jobID, Stage: current, Msg: "run_finished",
				Meta: map[string]interface{}{"version": state.Version}})
			return state, nil
		}
		current = nextStage
	}
}

// saveCheckpoint bumps the state version and persists it attributed to
// the stage that just completed. Two checkpoints of one job never share a
// version.
func (e *Engine) saveCheckpoint(ctx context.Context, jobID, stage string, state *State) error {
	state.Version++
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	cp := store.Checkpoint{
		JobID:     jobID,
		Stage:     stage,
		State:     data,
		Version:   state.Version,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}

	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementCheckpoints(jobID)
	}
	e.emit(emit.Event{JobID: jobID, Stage: stage, Msg: "checkpoint_saved",
		Meta: map[string]interface{}{"version": cp.Version}})
	return nil
}

// route determines the stage after from: an installed router wins,
// otherwise edges from the stage are evaluated in declaration order.
func (e *Engine) route(from string, state *State) (string, error) {
	e.mu.RLock()
	router, hasRouter := e.routers[from]
	e.mu.RUnlock()

	if hasRouter {
		next := router(state)
		if next == "" {
			return "", fmt.Errorf("%w: router for %s returned no stage", ErrNoRoute, from)
		}
		if next != End && !e.hasStage(next) {
			return "", fmt.Errorf("%w: router for %s picked unknown stage %s", ErrNoRoute, from, next)
		}
		return next, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, edge := range e.edges {
		if edge.From != from {
			continue
		}
		if edge.When == nil || edge.When(state) {
			return edge.To, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoRoute, from)
}

func (e *Engine) hasStage(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.stages[name]
	return ok
}

func (e *Engine) recordStage(jobID, stage string, elapsed time.Duration, status string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.RecordStageLatency(jobID, stage, elapsed, status)
	}
	e.emit(emit.Event{JobID: jobID, Stage: stage, Msg: "stage_complete",
		Meta: map[string]interface{}{"duration_ms": elapsed.Milliseconds(), "status": status}})
}

func (e *Engine) emit(event emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
}
