// Package store provides persistence for pipeline checkpoints and unit
// artifacts.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested job, checkpoint, or artifact
// does not exist.
var ErrNotFound = errors.New("not found")

// Checkpoint is one durable snapshot of a job's flow state, taken after a
// stage completes. Checkpoints for a job are versioned monotonically; the
// highest version is the resume point.
type Checkpoint struct {
	// JobID identifies the pipeline run.
	JobID string

	// Stage is the stage that completed just before this snapshot.
	Stage string

	// State is the serialized flow state.
	State []byte

	// Version increases by one per checkpoint within a job.
	Version int

	CreatedAt time.Time
}

// Store persists checkpoints and per-unit artifacts.
//
// Checkpoints drive crash recovery: a job resumes from its latest version.
// Artifacts drive skip-completed: a stage consults the artifact store
// before spending an external call on a unit it already produced, keyed by
// stage so transform outputs and gate reports recover independently.
//
// Implementations must tolerate re-saving an existing checkpoint version
// or artifact with identical content (at-least-once writers).
type Store interface {
	// SaveCheckpoint durably persists a checkpoint. The engine does not
	// proceed past a stage until this returns nil.
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error

	// LoadLatestCheckpoint returns the highest-version checkpoint for a
	// job, or ErrNotFound if the job has none.
	LoadLatestCheckpoint(ctx context.Context, jobID string) (Checkpoint, error)

	// SaveArtifact persists one unit's output for one stage. Saving
	// again for the same (jobID, unitID, stage) replaces the previous
	// artifact.
	SaveArtifact(ctx context.Context, jobID, unitID, stage string, payload []byte) error

	// LoadArtifact returns a unit's stored payload for a stage, or
	// ErrNotFound.
	LoadArtifact(ctx context.Context, jobID, unitID, stage string) ([]byte, error)
}
