package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors returned by job row operations.
var (
	// ErrNotFound is returned when no job row matches the given id.
	ErrNotFound = errors.New("job not found")

	// ErrTerminalState is returned when an operation would move a job out
	// of a terminal state. Terminal rows are immutable.
	ErrTerminalState = errors.New("job is in a terminal state")
)

// Submit inserts a new QUEUED job row and returns it.
//
// paramsHash must be the canonical content hash of spec.Params (see
// pkg/batch); the store persists it verbatim for duplicate detection.
func (s *Store) Submit(ctx context.Context, spec JobSpec, paramsHash string) (*Job, error) {
	if spec.JobType == "" {
		return nil, errors.New("job_type is required")
	}
	if paramsHash == "" {
		return nil, errors.New("params_hash is required")
	}

	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		JobID:      uuid.New().String(),
		JobType:    spec.JobType,
		Params:     spec.Params,
		ParamsHash: paramsHash,
		State:      JobStateQueued,
		BatchID:    spec.BatchID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs
		 (job_id, job_type, params, params_hash, state, batch_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, string(job.JobType), string(paramsJSON), paramsHash,
		string(JobStateQueued), nullString(spec.BatchID), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobSQL+` WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job, err
}

// ClaimNextQueued atomically claims the oldest eligible QUEUED job for the
// given worker, moving it to RUNNING and stamping worker_id/pid.
//
// Jobs with abort_requested set are never claimable. Selection is FIFO by
// created_at with job_id as a deterministic tie-break, so repeated claims
// drain the queue in submission order and no eligible job starves.
//
// Returns (nil, nil) when no job is eligible.
func (s *Store) ClaimNextQueued(ctx context.Context, workerID string, pid int) (*Job, error) {
	const batch = 16
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ids, err := s.claimCandidates(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}

		// Conditional update guarded by current state resolves concurrent
		// claims: exactly one caller observes RowsAffected == 1.
		for _, id := range ids {
			claimed, err := s.ClaimJob(ctx, id, workerID, pid)
			if err != nil {
				return nil, err
			}
			if claimed {
				return s.Get(ctx, id)
			}
		}

		// A short batch was the whole eligible queue, and rivals took all
		// of it. A full batch may hide eligible jobs past the cap; rescan
		// rather than report an empty queue that isn't.
		if len(ids) < batch {
			return nil, nil
		}
	}
}

func (s *Store) claimCandidates(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id FROM jobs
		 WHERE state = ? AND abort_requested = 0
		 ORDER BY created_at ASC, job_id ASC
		 LIMIT ?`,
		string(JobStateQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("list claim candidates: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimJob attempts the QUEUED -> RUNNING transition for one specific job.
// It reports false when another worker already holds the job, when the job
// was aborted before claim, or when the job is no longer QUEUED.
func (s *Store) ClaimJob(ctx context.Context, jobID, workerID string, pid int) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = ?, worker_id = ?, pid = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
		 WHERE job_id = ? AND state = ? AND abort_requested = 0`,
		string(JobStateRunning), workerID, pid, now, now, now,
		jobID, string(JobStateQueued))
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Heartbeat records worker liveness plus coarse progress for a RUNNING job.
// Heartbeats against non-RUNNING rows are dropped silently: the row may have
// been orphaned or killed between checkpoints and the terminal state wins.
func (s *Store) Heartbeat(ctx context.Context, jobID string, progress float64, phase string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_at = ?, progress = ?, phase = ?, updated_at = ?
		 WHERE job_id = ? AND state = ?`,
		now, progress, phase, now, jobID, string(JobStateRunning))
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

// TouchHeartbeat refreshes heartbeat_at without touching progress or phase.
// Used by the worker's background liveness ticker.
func (s *Store) TouchHeartbeat(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_at = ?, updated_at = ? WHERE job_id = ? AND state = ?`,
		now, now, jobID, string(JobStateRunning))
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return nil
}

// MarkSucceeded moves a RUNNING job to SUCCEEDED and records the result ref.
func (s *Store) MarkSucceeded(ctx context.Context, jobID, resultRef string) error {
	return s.finish(ctx, jobID, JobStateSucceeded, resultRef, "", JobStateRunning)
}

// MarkFailed moves a RUNNING job to FAILED with a truncated error message.
// Full failure detail belongs in the per-job audit log, not the row.
func (s *Store) MarkFailed(ctx context.Context, jobID, truncatedErr string) error {
	return s.finish(ctx, jobID, JobStateFailed, "", truncatedErr, JobStateRunning)
}

// MarkAborted moves a QUEUED or RUNNING job to ABORTED.
func (s *Store) MarkAborted(ctx context.Context, jobID string) error {
	return s.finish(ctx, jobID, JobStateAborted, "", "", JobStateQueued, JobStateRunning)
}

// MarkKilled moves a RUNNING job to KILLED after a forced process signal.
func (s *Store) MarkKilled(ctx context.Context, jobID, reason string) error {
	return s.finish(ctx, jobID, JobStateKilled, "", reason, JobStateRunning)
}

// MarkOrphaned moves a RUNNING job to ORPHANED and clears the worker claim
// so the slot is reusable.
func (s *Store) MarkOrphaned(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET state = ?, worker_id = NULL, pid = NULL, ended_at = ?, updated_at = ?
		 WHERE job_id = ? AND state = ?`,
		string(JobStateOrphaned), now, now, jobID, string(JobStateRunning))
	if err != nil {
		return fmt.Errorf("mark orphaned: %w", err)
	}
	return s.checkTransition(ctx, res, jobID)
}

// finish applies a guarded transition to a terminal state from one of the
// allowed source states.
func (s *Store) finish(ctx context.Context, jobID string, to JobState, resultRef, errMsg string, from ...JobState) error {
	now := time.Now().UTC()

	query := `UPDATE jobs SET state = ?, result_ref = COALESCE(NULLIF(?, ''), result_ref),
		error = COALESCE(NULLIF(?, ''), error), ended_at = ?, updated_at = ?
		WHERE job_id = ? AND state IN (`
	args := []any{string(to), resultRef, errMsg, now, now, jobID}
	for i, f := range from {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, string(f))
	}
	query += ")"

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark %s: %w", to, err)
	}
	return s.checkTransition(ctx, res, jobID)
}

// checkTransition distinguishes "row missing" from "transition refused"
// when a guarded update matched nothing.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, jobID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, jobID, job.State)
	}
	return fmt.Errorf("invalid transition for job %s (state=%s)", jobID, job.State)
}

// RequestAbort sets the durable abort flag. The flag is checked before
// claim (pre-emptive) and at handler checkpoints (cooperative). Requesting
// abort on a terminal job is a no-op, not an error, and the request is
// idempotent.
func (s *Store) RequestAbort(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET abort_requested = 1, updated_at = ?
		 WHERE job_id = ? AND state IN (?, ?)`,
		now, jobID, string(JobStateQueued), string(JobStateRunning))
	if err != nil {
		return fmt.Errorf("request abort: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// No-op on terminal rows, but surface missing rows.
		if _, err := s.Get(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// IsAbortRequested reads the durable abort flag.
func (s *Store) IsAbortRequested(ctx context.Context, jobID string) (bool, error) {
	return s.readFlag(ctx, jobID, "abort_requested")
}

// RequestPause sets the pause flag; the worker blocks at its next
// checkpoint. Paused jobs remain abortable.
func (s *Store) RequestPause(ctx context.Context, jobID string) error {
	return s.setPause(ctx, jobID, true)
}

// RequestResume clears the pause flag.
func (s *Store) RequestResume(ctx context.Context, jobID string) error {
	return s.setPause(ctx, jobID, false)
}

func (s *Store) setPause(ctx context.Context, jobID string, paused bool) error {
	now := time.Now().UTC()
	flag := 0
	if paused {
		flag = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET pause_requested = ?, updated_at = ?
		 WHERE job_id = ? AND state IN (?, ?)`,
		flag, now, jobID, string(JobStateQueued), string(JobStateRunning))
	if err != nil {
		return fmt.Errorf("set pause flag: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := s.Get(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// IsPauseRequested reads the pause flag.
func (s *Store) IsPauseRequested(ctx context.Context, jobID string) (bool, error) {
	return s.readFlag(ctx, jobID, "pause_requested")
}

func (s *Store) readFlag(ctx context.Context, jobID, column string) (bool, error) {
	var flag int
	// column comes from a fixed internal set, never caller input.
	err := s.db.QueryRowContext(ctx,
		`SELECT `+column+` FROM jobs WHERE job_id = ?`, jobID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return false, err
	}
	return flag == 1, nil
}

// AbortQueued transitions every QUEUED job with abort_requested set
// directly to ABORTED, before any worker can claim it. Returns the number
// of jobs aborted. Called from the supervisor tick.
func (s *Store) AbortQueued(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, ended_at = ?, updated_at = ?
		 WHERE state = ? AND abort_requested = 1`,
		string(JobStateAborted), now, now, string(JobStateQueued))
	if err != nil {
		return 0, fmt.Errorf("abort queued jobs: %w", err)
	}
	return res.RowsAffected()
}

// OrphanStale marks every RUNNING job whose heartbeat is older than cutoff
// as ORPHANED, clearing worker_id/pid. Jobs that have never heartbeat
// (claim stamped heartbeat_at, so this only matches genuinely stale rows)
// are compared on the claim timestamp. Returns the ids of orphaned jobs.
func (s *Store) OrphanStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id FROM jobs
		 WHERE state = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		string(JobStateRunning), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("scan stale jobs: %w", err)
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

	orphaned := make([]string, 0, len(ids))
	for _, id := range ids {
		// Guarded per-row update: a worker finishing between the scan and
		// this update wins, and the terminal state stands.
		if err := s.MarkOrphaned(ctx, id); err != nil {
			if errors.Is(err, ErrTerminalState) {
				continue
			}
			return orphaned, err
		}
		orphaned = append(orphaned, id)
	}

	return orphaned, nil
}

// FindDuplicate returns a job of the same type and params hash that is
// either non-terminal or was created within the given window. Returns
// (nil, nil) when no such job exists.
func (s *Store) FindDuplicate(ctx context.Context, jobType JobType, paramsHash string, window time.Duration) (*Job, error) {
	since := time.Now().UTC().Add(-window)
	row := s.db.QueryRowContext(ctx, selectJobSQL+`
		 WHERE job_type = ? AND params_hash = ?
		   AND (state IN (?, ?) OR created_at >= ?)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		string(jobType), paramsHash,
		string(JobStateQueued), string(JobStateRunning), since)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

const selectJobSQL = `
	SELECT job_id, job_type, params, params_hash, state, batch_id,
	       abort_requested, pause_requested, worker_id, pid,
	       progress, phase, result_ref, error,
	       heartbeat_at, started_at, ended_at, created_at, updated_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var paramsJSON string
	var batchID, workerID, phase, resultRef, errMsg sql.NullString
	var pid sql.NullInt64
	var abortFlag, pauseFlag int
	var heartbeatAt, startedAt, endedAt sql.NullTime

	err := row.Scan(
		&job.JobID, &job.JobType, &paramsJSON, &job.ParamsHash, &job.State, &batchID,
		&abortFlag, &pauseFlag, &workerID, &pid,
		&job.Progress, &phase, &resultRef, &errMsg,
		&heartbeatAt, &startedAt, &endedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("unmarshal params: %w", err)
	}

	job.BatchID = batchID.String
	job.WorkerID = workerID.String
	job.Phase = phase.String
	job.ResultRef = resultRef.String
	job.Error = errMsg.String
	job.AbortRequested = abortFlag == 1
	job.PauseRequested = pauseFlag == 1
	if pid.Valid {
		job.PID = int(pid.Int64)
	}
	if heartbeatAt.Valid {
		t := heartbeatAt.Time.UTC()
		job.HeartbeatAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		job.EndedAt = &t
	}

	return &job, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
