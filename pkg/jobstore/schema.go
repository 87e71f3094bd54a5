package jobstore

import (
	"context"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the job store schema in-place.
//
// The base schema supports:
// - job rows with full lifecycle state and worker claim columns
// - batch metadata (tags/notes/season/frozen)
// - the dataset fingerprint registry consulted at admission
func (s *Store) Migrate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("store is not open")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			params TEXT NOT NULL,
			params_hash TEXT NOT NULL,
			state TEXT NOT NULL,
			batch_id TEXT,
			abort_requested INTEGER NOT NULL DEFAULT 0,
			pause_requested INTEGER NOT NULL DEFAULT 0,
			worker_id TEXT,
			pid INTEGER,
			progress REAL NOT NULL DEFAULT 0,
			phase TEXT,
			result_ref TEXT,
			error TEXT,
			heartbeat_at TEXT,
			started_at TEXT,
			ended_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_type_hash ON jobs(job_type, params_hash);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_batch_id ON jobs(batch_id);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);`,

		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			season TEXT,
			notes TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			frozen INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			registered_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: add pause_requested for cooperative pause/resume.
	if current < 2 {
		alters := []string{
			`ALTER TABLE jobs ADD COLUMN pause_requested INTEGER NOT NULL DEFAULT 0;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				// SQLite/libsql report duplicate columns as an error; treat as idempotent.
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
