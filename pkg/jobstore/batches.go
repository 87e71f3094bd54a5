package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors returned by batch metadata operations.
var (
	// ErrBatchNotFound is returned when no batch row matches the given id.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchFrozen is returned when an operation is refused because the
	// batch is frozen. Tag appends and note updates are still allowed.
	ErrBatchFrozen = errors.New("batch is frozen")
)

// CreateBatch inserts batch metadata for a computed batch id. Creating an
// already-known batch id is an error: batch identity is content-addressed,
// so a collision means the same job set was already submitted.
func (s *Store) CreateBatch(ctx context.Context, batchID, season string) (*Batch, error) {
	if batchID == "" {
		return nil, errors.New("batch_id is required")
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (batch_id, season, tags, frozen, created_at, updated_at)
		 VALUES (?, ?, '[]', 0, ?, ?)`,
		batchID, nullString(season), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	return &Batch{BatchID: batchID, Season: season, CreatedAt: now, UpdatedAt: now}, nil
}

// GetBatch retrieves batch metadata by id.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT batch_id, season, notes, tags, frozen, created_at, updated_at
		 FROM batches WHERE batch_id = ?`, batchID)

	var b Batch
	var season, notes sql.NullString
	var tagsJSON string
	var frozen int

	err := row.Scan(&b.BatchID, &season, &notes, &tagsJSON, &frozen, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	b.Season = season.String
	b.Notes = notes.String
	b.Frozen = frozen == 1
	if err := json.Unmarshal([]byte(tagsJSON), &b.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal batch tags: %w", err)
	}

	return &b, nil
}

// FreezeBatch marks a batch frozen. Freezing is idempotent and one-way:
// a frozen batch refuses season/identity changes and retry, while tag
// appends and note updates remain allowed.
func (s *Store) FreezeBatch(ctx context.Context, batchID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET frozen = 1, updated_at = ? WHERE batch_id = ?`,
		now, batchID)
	if err != nil {
		return fmt.Errorf("freeze batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return nil
}

// UpdateBatchSeason changes the season label. Refused on frozen batches.
func (s *Store) UpdateBatchSeason(ctx context.Context, batchID, season string) error {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Frozen {
		return fmt.Errorf("%w: season change refused for %s", ErrBatchFrozen, batchID)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE batches SET season = ?, updated_at = ? WHERE batch_id = ? AND frozen = 0`,
		nullString(season), now, batchID)
	if err != nil {
		return fmt.Errorf("update batch season: %w", err)
	}
	return nil
}

// AppendBatchTags adds tags to a batch. Append-only discipline: tags are
// never removed, duplicates are dropped, and the operation is allowed even
// on frozen batches.
func (s *Store) AppendBatchTags(ctx context.Context, batchID string, tags ...string) error {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(b.Tags))
	merged := b.Tags
	for _, t := range b.Tags {
		seen[t] = struct{}{}
	}
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		merged = append(merged, t)
	}

	tagsJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal batch tags: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE batches SET tags = ?, updated_at = ? WHERE batch_id = ?`,
		string(tagsJSON), now, batchID)
	if err != nil {
		return fmt.Errorf("append batch tags: %w", err)
	}
	return nil
}

// UpdateBatchNotes replaces the free-form notes. Allowed on frozen batches.
func (s *Store) UpdateBatchNotes(ctx context.Context, batchID, notes string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET notes = ?, updated_at = ? WHERE batch_id = ?`,
		nullString(notes), now, batchID)
	if err != nil {
		return fmt.Errorf("update batch notes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return nil
}

// RetryBatch resubmits every member job that ended in FAILED, KILLED or
// ORPHANED as a fresh QUEUED row under the same batch id, and returns the
// new job ids. Refused on frozen batches. SUCCEEDED and ABORTED members
// are left alone: the former are done, the latter were cancelled on
// purpose.
func (s *Store) RetryBatch(ctx context.Context, batchID string) ([]string, error) {
	b, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Frozen {
		return nil, fmt.Errorf("%w: retry refused for %s", ErrBatchFrozen, batchID)
	}

	members, err := s.List(ctx, Filter{
		BatchID: batchID,
		States:  []JobState{JobStateFailed, JobStateKilled, JobStateOrphaned},
	})
	if err != nil {
		return nil, err
	}

	newIDs := make([]string, 0, len(members))
	for _, m := range members {
		job, err := s.Submit(ctx, JobSpec{
			JobType: m.JobType,
			Params:  m.Params,
			BatchID: batchID,
		}, m.ParamsHash)
		if err != nil {
			return newIDs, fmt.Errorf("retry job %s: %w", m.JobID, err)
		}
		newIDs = append(newIDs, job.JobID)
	}

	return newIDs, nil
}
