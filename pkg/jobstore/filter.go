package jobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter narrows List results. Zero-value fields are ignored.
type Filter struct {
	// States limits results to the given lifecycle states.
	States []JobState

	// JobType limits results to one job type.
	JobType JobType

	// BatchID limits results to members of one batch.
	BatchID string

	// TypeGlob is a doublestar pattern matched against job_type,
	// e.g. "RUN_*" or "{RUN_BACKTEST,COMPILE_FEATURES}".
	TypeGlob string

	// Limit caps the number of rows returned. Zero means no cap.
	Limit int
}

// List returns jobs matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Job, error) {
	if f.TypeGlob != "" && !doublestar.ValidatePattern(f.TypeGlob) {
		return nil, fmt.Errorf("invalid type glob: %q", f.TypeGlob)
	}

	query := selectJobSQL
	var conds []string
	var args []any

	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, st := range f.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "state IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, string(f.JobType))
	}
	if f.BatchID != "" {
		conds = append(conds, "batch_id = ?")
		args = append(args, f.BatchID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, job_id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		// Glob filtering happens in-process; the pattern language is not
		// expressible in SQL and result sets here are operator-scale.
		if f.TypeGlob != "" {
			ok, err := doublestar.Match(f.TypeGlob, string(job.JobType))
			if err != nil || !ok {
				continue
			}
		}
		out = append(out, *job)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
