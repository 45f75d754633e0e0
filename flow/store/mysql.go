package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// Designed for production pipelines: multiple worker processes, jobs that
// survive restarts, and an auditable checkpoint history.
//
// Credentials belong in the environment, not in source:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	st, err := store.NewMySQLStore(dsn)
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store and migrates its schema.
//
// The DSN format is the go-sql-driver form:
//
//	user:password@tcp(localhost:3306)/pipelines?parseTime=true
//
// parseTime=true is required so checkpoint timestamps scan into time.Time.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS job_checkpoints (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_id VARCHAR(255) NOT NULL,
			stage VARCHAR(255) NOT NULL,
			state MEDIUMBLOB NOT NULL,
			version INT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			INDEX idx_job_version (job_id, version),
			UNIQUE KEY unique_job_version (job_id, version)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create job_checkpoints table: %w", err)
	}

	artifactsTable := `
		CREATE TABLE IF NOT EXISTS unit_artifacts (
			job_id VARCHAR(255) NOT NULL,
			unit_id VARCHAR(255) NOT NULL,
			stage VARCHAR(255) NOT NULL,
			payload MEDIUMBLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (job_id, unit_id, stage)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, artifactsTable); err != nil {
		return fmt.Errorf("failed to create unit_artifacts table: %w", err)
	}

	return nil
}

// SaveCheckpoint persists a checkpoint. Re-saving an existing version
// replaces it, keeping at-least-once writers idempotent.
func (m *MySQLStore) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	if err := m.ensureOpen(); err != nil {
		return err
	}

	createdAt := cp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := `
		INSERT INTO job_checkpoints (job_id, stage, state, version, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			stage = VALUES(stage),
			state = VALUES(state),
			created_at = VALUES(created_at)
	`
	if _, err := m.db.ExecContext(ctx, query, cp.JobID, cp.Stage, cp.State, cp.Version, createdAt); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadLatestCheckpoint returns the highest-version checkpoint for a job.
func (m *MySQLStore) LoadLatestCheckpoint(ctx context.Context, jobID string) (Checkpoint, error) {
	if err := m.ensureOpen(); err != nil {
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
	err := m.db.QueryRowContext(ctx, query, jobID).Scan(&cp.Stage, &cp.State, &cp.Version, &cp.CreatedAt)
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
func (m *MySQLStore) SaveArtifact(ctx context.Context, jobID, unitID, stage string, payload []byte) error {
	if err := m.ensureOpen(); err != nil {
		return err
	}

	query := `
		INSERT INTO unit_artifacts (job_id, unit_id, stage, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			payload = VALUES(payload),
			updated_at = VALUES(updated_at)
	`
	if _, err := m.db.ExecContext(ctx, query, jobID, unitID, stage, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// LoadArtifact returns a unit's stored payload for a stage.
func (m *MySQLStore) LoadArtifact(ctx context.Context, jobID, unitID, stage string) ([]byte, error) {
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}

	query := `SELECT payload FROM unit_artifacts WHERE job_id = ? AND unit_id = ? AND stage = ?`
	var payload []byte
	err := m.db.QueryRowContext(ctx, query, jobID, unitID, stage).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact: %w", err)
	}
	return payload, nil
}

// Close closes the underlying database connection pool.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *MySQLStore) ensureOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
