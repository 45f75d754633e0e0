package store

import (
	"context"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// It keeps checkpoints and artifacts in maps. Designed for tests and
// single-process development runs; everything is lost on exit. For
// durable pipelines use SQLiteStore or MySQLStore.
//
// MemStore is safe for concurrent use.
type MemStore struct {
	mu          sync.RWMutex
	checkpoints map[string][]Checkpoint // jobID -> checkpoints
	artifacts   map[string][]byte       // jobID+"\x00"+unitID+"\x00"+stage -> payload
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints: make(map[string][]Checkpoint),
		artifacts:   make(map[string][]byte),
	}
}

// SaveCheckpoint appends a checkpoint to the job's history. Re-saving an
// existing version replaces it, so crash-retried writes stay idempotent.
func (m *MemStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.checkpoints[cp.JobID]
	for i, existing := range list {
		if existing.Version == cp.Version {
			list[i] = cp
			return nil
		}
	}
	m.checkpoints[cp.JobID] = append(list, cp)
	return nil
}

// LoadLatestCheckpoint returns the checkpoint with the highest version.
func (m *MemStore) LoadLatestCheckpoint(_ context.Context, jobID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.checkpoints[jobID]
	if len(list) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	latest := list[0]
	for _, cp := range list[1:] {
		if cp.Version > latest.Version {
			latest = cp
		}
	}
	return latest, nil
}

// SaveArtifact stores a unit's payload for a stage, replacing any
// previous one.
func (m *MemStore) SaveArtifact(_ context.Context, jobID, unitID, stage string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.artifacts[artifactKey(jobID, unitID, stage)] = buf
	return nil
}

// LoadArtifact returns a unit's stored payload for a stage.
func (m *MemStore) LoadArtifact(_ context.Context, jobID, unitID, stage string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	payload, ok := m.artifacts[artifactKey(jobID, unitID, stage)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func artifactKey(jobID, unitID, stage string) string {
	return jobID + "\x00" + unitID + "\x00" + stage
}
