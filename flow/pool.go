package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxConcurrency is the fan-out ceiling used when none is
// configured. It defaults conservatively to respect third-party rate
// limits.
const DefaultMaxConcurrency = 4

// Task is one independent unit of work scheduled by RunBounded.
type Task[T any] func(ctx context.Context) (T, error)

// TaskResult correlates one task's outcome back to its input position.
type TaskResult[T any] struct {
	// Index is the task's position in the input slice. Results are
	// returned in input order, not completion order.
	Index int

	// Value is the task's result when Err is nil.
	Value T

	// Err is the task's failure, already caught and classified. A
	// failing task never aborts its siblings.
	Err error

	// TimedOut is true when Err was caused by the per-task timeout.
	TimedOut bool

	// Duration is how long the task ran.
	Duration time.Duration
}

// RunBounded executes tasks under a concurrency ceiling with a per-task
// timeout.
//
// At most maxConcurrency tasks run at once (a permit pool bounds
// admission). Each task gets its own timeout context; expiry cancels only
// that task and records a timeout-classified failure without aborting
// siblings. Panics inside a task are recovered into that task's result so
// no task can crash the controller loop.
//
// Results are returned correlated to input order regardless of completion
// order, so downstream aggregation is deterministic. A zero or negative
// maxConcurrency uses DefaultMaxConcurrency; a zero perTaskTimeout means
// no per-task limit beyond ctx itself.
func RunBounded[T any](ctx context.Context, tasks []Task[T], maxConcurrency int, perTaskTimeout time.Duration) []TaskResult[T] {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	results := make([]TaskResult[T], len(tasks))
	permits := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(index int, run Task[T]) {
			defer wg.Done()

			select {
			case permits <- struct{}{}:
				defer func() { <-permits }()
			case <-ctx.Done():
				results[index] = TaskResult[T]{Index: index, Err: ctx.Err()}
				return
			}

			taskCtx := ctx
			cancel := context.CancelFunc(func() {})
			if perTaskTimeout > 0 {
				taskCtx, cancel = context.WithTimeout(ctx, perTaskTimeout)
			}
			defer cancel()

			start := time.Now()
			value, err := runRecovered(taskCtx, run)
			elapsed := time.Since(start)

			timedOut := false
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				// The per-task deadline fired, not the parent's.
				timedOut = true
				err = fmt.Errorf("task %d exceeded per-task timeout of %v: %w", index, perTaskTimeout, err)
			}

			results[index] = TaskResult[T]{
				Index:    index,
				Value:    value,
				Err:      err,
				TimedOut: timedOut,
				Duration: elapsed,
			}
		}(i, task)
	}

	wg.Wait()
	return results
}

// runRecovered invokes the task, converting a panic into an error so one
// misbehaving unit cannot take down the fan-out.
func runRecovered[T any](ctx context.Context, run Task[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return run(ctx)
}
