package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDatasetNotFound is returned when no dataset row matches the name.
var ErrDatasetNotFound = errors.New("dataset not found")

// RegisterDataset records (or replaces) a dataset's content fingerprint.
// The fingerprint is what the admission controller requires before a
// dataset-backed job may enter the queue.
func (s *Store) RegisterDataset(ctx context.Context, name, fingerprint string) error {
	if name == "" {
		return errors.New("dataset name is required")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (name, fingerprint, registered_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET fingerprint = excluded.fingerprint,
		                                 registered_at = excluded.registered_at`,
		name, fingerprint, now)
	if err != nil {
		return fmt.Errorf("register dataset: %w", err)
	}
	return nil
}

// GetDataset resolves a dataset record by name.
func (s *Store) GetDataset(ctx context.Context, name string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, fingerprint, registered_at FROM datasets WHERE name = ?`, name)

	var d Dataset
	err := row.Scan(&d.Name, &d.Fingerprint, &d.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &d, nil
}
