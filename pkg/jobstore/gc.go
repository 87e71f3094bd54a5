package jobstore

import (
	"context"
	"fmt"
	"time"
)

// PruneTerminal deletes terminal job rows whose ended_at is older than
// maxAge and returns the pruned job ids (so callers can remove audit
// directories). With dryRun set, nothing is deleted and the ids that
// would be pruned are returned.
//
// This is the only deletion path in the store; lifecycle code treats
// terminal rows as a permanent audit trail.
func (s *Store) PruneTerminal(ctx context.Context, maxAge time.Duration, dryRun bool) ([]string, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("max age must be > 0")
	}
	cutoff := time.Now().UTC().Add(-maxAge)

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id FROM jobs
		 WHERE state IN (?, ?, ?, ?, ?) AND ended_at IS NOT NULL AND ended_at < ?`,
		string(JobStateSucceeded), string(JobStateFailed), string(JobStateAborted),
		string(JobStateKilled), string(JobStateOrphaned), cutoff)
	if err != nil {
		return nil, fmt.Errorf("scan prunable jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if dryRun || len(ids) == 0 {
		return ids, nil
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id); err != nil {
			return ids, fmt.Errorf("prune job %s: %w", id, err)
		}
	}

	return ids, nil
}
