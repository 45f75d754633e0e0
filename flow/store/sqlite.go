package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// It keeps checkpoints and artifacts in a single-file database, which
// makes it the default backend for local pipeline runs: zero setup,
// durable across process restarts, and good enough concurrency in WAL
// mode for one writer plus readers.
//
// Use ":memory:" as the path for a throwaway database in tests.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at the
// given path and migrates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS job_checkpoints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			state BLOB NOT NULL,
			version INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(job_id, version)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create job_checkpoints table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_checkpoints_job ON job_checkpoints(job_id, version)"); err != nil {
		return fmt.Errorf("failed to create idx_checkpoints_job: %w", err)
	}

	artifactsTable := `
		CREATE TABLE IF NOT EXISTS unit_artifacts (
			job_id TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			payload BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (job_id, unit_id, stage)
		)
	`
	if _, err := s.db.ExecContext(ctx, artifactsTable); err != nil {
		return fmt.Errorf("failed to create unit_artifacts table: %w", err)
	}

	return nil
}

// SaveCheckpoint persists a checkpoint. Re-saving an existing version
// replaces it so a crash-retried write cannot fail on the unique index.
func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO job_checkpoints (job_id, stage, state, version, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := s.db.ExecContext(ctx, query, cp.JobID, cp.Stage, cp.State, cp.Version, createdAt); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatestCheckpoint returns the highest-version checkpoint for a job.
func (s *SQLiteStore) LoadLatestCheckpoint(ctx context.Context, jobID string) (Checkpoint, error) {
	if err := s.ensureOpen(); err != nil {
		return Checkpoint{}, err
	}

	query := `
		SELECT stage, state, version, created_at
		FROM job_checkpoints
		WHERE job_id = ?
		ORDER BY version DESC
		LIMIT 1
	`
	cp := Checkpoint{JobID: jobID}
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(&cp.Stage, &cp.State, &cp.Version, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// SaveArtifact persists a unit's payload for a stage, replacing any
// previous one.
func (s *SQLiteStore) SaveArtifact(ctx context.Context, jobID, unitID, stage string, payload []byte) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO unit_artifacts (job_id, unit_id, stage, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, jobID, unitID, stage, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// LoadArtifact returns a unit's stored payload for a stage.
func (s *SQLiteStore) LoadArtifact(ctx context.Context, jobID, unitID, stage string) ([]byte, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	query := `SELECT payload FROM unit_artifacts WHERE job_id = ? AND unit_id = ? AND stage = ?`
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, jobID, unitID, stage).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}
	return payload, nil
}

// Close closes the underlying database. The store rejects operations
// after Close.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) ensureOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
