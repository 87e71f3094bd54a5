package jobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "jobs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

func submitTestJob(t *testing.T, store *Store, jobType JobType, hash string) *Job {
	t.Helper()
	job, err := store.Submit(context.Background(), JobSpec{
		JobType: jobType,
		Params:  map[string]any{"strategy": "meanrev", "timeframe": "1h"},
	}, hash)
	require.NoError(t, err)
	return job
}

func TestSubmitAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "hash-1")
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, JobStateQueued, job.State)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)
	assert.Equal(t, JobTypeBacktest, got.JobType)
	assert.Equal(t, "hash-1", got.ParamsHash)
	assert.Equal(t, "meanrev", got.Params["strategy"])
	assert.False(t, got.AbortRequested)
	assert.Nil(t, got.StartedAt)
}

func TestSubmitValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Submit(ctx, JobSpec{Params: map[string]any{}}, "h")
	assert.Error(t, err)

	_, err = store.Submit(ctx, JobSpec{JobType: JobTypeBacktest}, "")
	assert.Error(t, err)
}

func TestGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimNextQueuedFIFO(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := submitTestJob(t, store, JobTypeBacktest, "h1")
	second := submitTestJob(t, store, JobTypeBacktest, "h2")
	third := submitTestJob(t, store, JobTypeBacktest, "h3")

	// Backdate created_at so ordering does not depend on insert timing.
	base := time.Now().UTC().Add(-time.Minute)
	for i, id := range []string{first.JobID, second.JobID, third.JobID} {
		_, err := store.db.ExecContext(ctx,
			`UPDATE jobs SET created_at = ? WHERE job_id = ?`,
			base.Add(time.Duration(i)*time.Second), id)
		require.NoError(t, err)
	}

	var claimed []string
	for {
		job, err := store.ClaimNextQueued(ctx, "worker-1", 100)
		require.NoError(t, err)
		if job == nil {
			break
		}
		assert.Equal(t, JobStateRunning, job.State)
		assert.Equal(t, "worker-1", job.WorkerID)
		assert.Equal(t, 100, job.PID)
		assert.NotNil(t, job.StartedAt)
		assert.NotNil(t, job.HeartbeatAt)
		claimed = append(claimed, job.JobID)
	}

	assert.Equal(t, []string{first.JobID, second.JobID, third.JobID}, claimed)
}

func TestClaimJobExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")

	ok, err := store.ClaimJob(ctx, job.JobID, "worker-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses: the row is no longer QUEUED.
	ok, err = store.ClaimJob(ctx, job.JobID, "worker-b", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "worker-a", got.WorkerID)
}

func TestClaimNextQueuedConcurrentDrain(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const jobs = 64
	for i := 0; i < jobs; i++ {
		submitTestJob(t, store, JobTypeBacktest, fmt.Sprintf("h%03d", i))
	}

	// Each claimer treats (nil, nil) as queue drained. Interleaved scans
	// losing a full candidate batch to rivals must rescan rather than
	// report empty, so after every claimer exits nothing may stay QUEUED.
	const claimers = 4
	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				job, err := store.ClaimNextQueued(ctx, fmt.Sprintf("worker-%d", n), n+1)
				if !assert.NoError(t, err) {
					return
				}
				if job == nil {
					return
				}
				total.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(jobs), total.Load(), "every job claimed exactly once")

	remaining, err := store.List(ctx, Filter{States: []JobState{JobStateQueued}})
	require.NoError(t, err)
	assert.Empty(t, remaining, "no eligible job may be left behind a drained report")
}

func TestClaimJobConcurrentClaimersWinOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")

	const claimers = 8
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := store.ClaimJob(ctx, job.JobID, fmt.Sprintf("worker-%d", n), n+1)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load(), "exactly one claimer may win")

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, got.State)
}

func TestClaimSkipsAbortRequested(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	aborted := submitTestJob(t, store, JobTypeBacktest, "h1")
	runnable := submitTestJob(t, store, JobTypeBacktest, "h2")
	require.NoError(t, store.RequestAbort(ctx, aborted.JobID))

	job, err := store.ClaimNextQueued(ctx, "worker-1", 1)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, runnable.JobID, job.JobID)

	job, err = store.ClaimNextQueued(ctx, "worker-1", 1)
	require.NoError(t, err)
	assert.Nil(t, job, "abort-flagged job must never be claimable")
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")
	_, err := store.ClaimJob(ctx, job.JobID, "worker-1", 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded(ctx, job.JobID, "run://abc"))

	assert.ErrorIs(t, store.MarkFailed(ctx, job.JobID, "late failure"), ErrTerminalState)
	assert.ErrorIs(t, store.MarkAborted(ctx, job.JobID), ErrTerminalState)
	assert.ErrorIs(t, store.MarkKilled(ctx, job.JobID, "sigkill"), ErrTerminalState)
	assert.ErrorIs(t, store.MarkOrphaned(ctx, job.JobID), ErrTerminalState)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateSucceeded, got.State)
	assert.Equal(t, "run://abc", got.ResultRef)
	assert.NotNil(t, got.EndedAt)
}

func TestMarkFailedRecordsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")
	_, err := store.ClaimJob(ctx, job.JobID, "worker-1", 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.JobID, "lookback window too small"))

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateFailed, got.State)
	assert.Equal(t, "lookback window too small", got.Error)
}

func TestMarkSucceededRequiresRunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")
	err := store.MarkSucceeded(ctx, job.JobID, "run://abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTerminalState)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
}

func TestRequestAbortIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")
	require.NoError(t, store.RequestAbort(ctx, job.JobID))
	require.NoError(t, store.RequestAbort(ctx, job.JobID))

	flagged, err := store.IsAbortRequested(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, flagged)

	// Aborting a terminal job is a no-op; a missing job is an error.
	_, err = store.ClaimJob(ctx, job.JobID, "w", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, store.RequestAbort(ctx, "missing"), ErrNotFound)
}

func TestPauseFlags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")

	paused, err := store.IsPauseRequested(ctx, job.JobID)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, store.RequestPause(ctx, job.JobID))
	paused, err = store.IsPauseRequested(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, store.RequestResume(ctx, job.JobID))
	paused, err = store.IsPauseRequested(ctx, job.JobID)
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestHeartbeatUpdatesProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")
	_, err := store.ClaimJob(ctx, job.JobID, "worker-1", 1)
	require.NoError(t, err)

	require.NoError(t, store.Heartbeat(ctx, job.JobID, 0.5, "simulating"))

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Progress)
	assert.Equal(t, "simulating", got.Phase)

	// TouchHeartbeat refreshes liveness without clobbering progress.
	require.NoError(t, store.TouchHeartbeat(ctx, job.JobID))
	got, err = store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Progress)
	assert.Equal(t, "simulating", got.Phase)
}

func TestHeartbeatDroppedOnNonRunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "h1")
	require.NoError(t, store.Heartbeat(ctx, job.JobID, 0.9, "late"))

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Progress)
	assert.Empty(t, got.Phase)
}

func TestAbortQueuedSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	flagged := submitTestJob(t, store, JobTypeBacktest, "h1")
	untouched := submitTestJob(t, store, JobTypeBacktest, "h2")
	running := submitTestJob(t, store, JobTypeBacktest, "h3")
	_, err := store.ClaimJob(ctx, running.JobID, "worker-1", 1)
	require.NoError(t, err)
	require.NoError(t, store.RequestAbort(ctx, flagged.JobID))
	require.NoError(t, store.RequestAbort(ctx, running.JobID))

	n, err := store.AbortQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, flagged.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateAborted, got.State)

	// The running job waits for its cooperative checkpoint; the clean
	// queued job is untouched.
	got, err = store.Get(ctx, running.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, got.State)

	got, err = store.Get(ctx, untouched.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, got.State)
}

func TestOrphanStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stale := submitTestJob(t, store, JobTypeBacktest, "h1")
	fresh := submitTestJob(t, store, JobTypeBacktest, "h2")
	for _, id := range []string{stale.JobID, fresh.JobID} {
		_, err := store.ClaimJob(ctx, id, "worker-1", 1)
		require.NoError(t, err)
	}

	// Backdate one heartbeat past the cutoff.
	_, err := store.db.ExecContext(ctx,
		`UPDATE jobs SET heartbeat_at = ? WHERE job_id = ?`,
		time.Now().UTC().Add(-10*time.Minute), stale.JobID)
	require.NoError(t, err)

	orphaned, err := store.OrphanStale(ctx, time.Now().UTC().Add(-2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{stale.JobID}, orphaned)

	got, err := store.Get(ctx, stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateOrphaned, got.State)
	assert.Empty(t, got.WorkerID, "orphaning must release the worker claim")
	assert.Zero(t, got.PID)

	got, err = store.Get(ctx, fresh.JobID)
	require.NoError(t, err)
	assert.Equal(t, JobStateRunning, got.State)
}

func TestFindDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := submitTestJob(t, store, JobTypeBacktest, "dup-hash")

	// Non-terminal jobs match regardless of age.
	dup, err := store.FindDuplicate(ctx, JobTypeBacktest, "dup-hash", time.Nanosecond)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, job.JobID, dup.JobID)

	// A different hash or type is not a duplicate.
	dup, err = store.FindDuplicate(ctx, JobTypeBacktest, "other-hash", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, dup)
	dup, err = store.FindDuplicate(ctx, JobTypePortfolio, "dup-hash", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, dup)

	// Terminal jobs only match within the recency window.
	_, err = store.ClaimJob(ctx, job.JobID, "worker-1", 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkSucceeded(ctx, job.JobID, "run://abc"))
	_, err = store.db.ExecContext(ctx,
		`UPDATE jobs SET created_at = ? WHERE job_id = ?`,
		time.Now().UTC().Add(-48*time.Hour), job.JobID)
	require.NoError(t, err)

	dup, err = store.FindDuplicate(ctx, JobTypeBacktest, "dup-hash", 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, dup)

	dup, err = store.FindDuplicate(ctx, JobTypeBacktest, "dup-hash", 72*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, job.JobID, dup.JobID)
}

func TestListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	backtest := submitTestJob(t, store, JobTypeBacktest, "h1")
	portfolio := submitTestJob(t, store, JobTypePortfolio, "h2")
	compile := submitTestJob(t, store, JobTypeCompile, "h3")
	_, err := store.ClaimJob(ctx, backtest.JobID, "worker-1", 1)
	require.NoError(t, err)

	t.Run("ByState", func(t *testing.T) {
		jobs, err := store.List(ctx, Filter{States: []JobState{JobStateRunning}})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, backtest.JobID, jobs[0].JobID)
	})

	t.Run("ByType", func(t *testing.T) {
		jobs, err := store.List(ctx, Filter{JobType: JobTypePortfolio})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, portfolio.JobID, jobs[0].JobID)
	})

	t.Run("ByTypeGlob", func(t *testing.T) {
		jobs, err := store.List(ctx, Filter{TypeGlob: "{RUN_BACKTEST,COMPILE_FEATURES}"})
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		ids := []string{jobs[0].JobID, jobs[1].JobID}
		assert.Contains(t, ids, backtest.JobID)
		assert.Contains(t, ids, compile.JobID)
	})

	t.Run("InvalidGlob", func(t *testing.T) {
		_, err := store.List(ctx, Filter{TypeGlob: "RUN_["})
		assert.Error(t, err)
	})

	t.Run("Limit", func(t *testing.T) {
		jobs, err := store.List(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})
}

func TestBatchLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	b, err := store.CreateBatch(ctx, "qb_test1", "2026Q1")
	require.NoError(t, err)
	assert.Equal(t, "qb_test1", b.BatchID)

	// Content-addressed identity: the same id cannot be created twice.
	_, err = store.CreateBatch(ctx, "qb_test1", "2026Q1")
	assert.Error(t, err)

	require.NoError(t, store.AppendBatchTags(ctx, "qb_test1", "sweep", "momentum", "sweep"))
	got, err := store.GetBatch(ctx, "qb_test1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sweep", "momentum"}, got.Tags)

	require.NoError(t, store.UpdateBatchSeason(ctx, "qb_test1", "2026Q2"))
	require.NoError(t, store.UpdateBatchNotes(ctx, "qb_test1", "first sweep of the quarter"))

	require.NoError(t, store.FreezeBatch(ctx, "qb_test1"))
	require.NoError(t, store.FreezeBatch(ctx, "qb_test1"), "freeze is idempotent")

	got, err = store.GetBatch(ctx, "qb_test1")
	require.NoError(t, err)
	assert.True(t, got.Frozen)
	assert.Equal(t, "2026Q2", got.Season)
	assert.Equal(t, "first sweep of the quarter", got.Notes)

	// Frozen refuses identity changes but still accepts tags and notes.
	assert.ErrorIs(t, store.UpdateBatchSeason(ctx, "qb_test1", "2026Q3"), ErrBatchFrozen)
	require.NoError(t, store.AppendBatchTags(ctx, "qb_test1", "archived"))
	require.NoError(t, store.UpdateBatchNotes(ctx, "qb_test1", "frozen after review"))

	_, err = store.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
	assert.ErrorIs(t, store.FreezeBatch(ctx, "missing"), ErrBatchNotFound)
}

func TestRetryBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateBatch(ctx, "qb_retry", "")
	require.NoError(t, err)

	submitMember := func(hash string) *Job {
		job, err := store.Submit(ctx, JobSpec{
			JobType: JobTypeBacktest,
			Params:  map[string]any{"h": hash},
			BatchID: "qb_retry",
		}, hash)
		require.NoError(t, err)
		return job
	}

	failed := submitMember("h-fail")
	succeeded := submitMember("h-ok")
	aborted := submitMember("h-abort")

	for _, j := range []*Job{failed, succeeded} {
		_, err := store.ClaimJob(ctx, j.JobID, "worker-1", 1)
		require.NoError(t, err)
	}
	require.NoError(t, store.MarkFailed(ctx, failed.JobID, "boom"))
	require.NoError(t, store.MarkSucceeded(ctx, succeeded.JobID, "run://ok"))
	require.NoError(t, store.MarkAborted(ctx, aborted.JobID))

	newIDs, err := store.RetryBatch(ctx, "qb_retry")
	require.NoError(t, err)
	require.Len(t, newIDs, 1, "only FAILED/KILLED/ORPHANED members retry")

	retried, err := store.Get(ctx, newIDs[0])
	require.NoError(t, err)
	assert.Equal(t, JobStateQueued, retried.State)
	assert.Equal(t, "h-fail", retried.ParamsHash)
	assert.Equal(t, "qb_retry", retried.BatchID)

	require.NoError(t, store.FreezeBatch(ctx, "qb_retry"))
	_, err = store.RetryBatch(ctx, "qb_retry")
	assert.ErrorIs(t, err, ErrBatchFrozen)
}

func TestDatasets(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RegisterDataset(ctx, "eurusd-m1", "sha256:aaa"))

	d, err := store.GetDataset(ctx, "eurusd-m1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:aaa", d.Fingerprint)
	assert.False(t, d.RegisteredAt.IsZero())

	// Re-registering replaces the fingerprint.
	require.NoError(t, store.RegisterDataset(ctx, "eurusd-m1", "sha256:bbb"))
	d, err = store.GetDataset(ctx, "eurusd-m1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:bbb", d.Fingerprint)

	_, err = store.GetDataset(ctx, "missing")
	assert.ErrorIs(t, err, ErrDatasetNotFound)

	assert.Error(t, store.RegisterDataset(ctx, "", "sha256:ccc"))
}

func TestPruneTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := submitTestJob(t, store, JobTypeBacktest, "h1")
	recent := submitTestJob(t, store, JobTypeBacktest, "h2")
	queued := submitTestJob(t, store, JobTypeBacktest, "h3")

	for _, j := range []*Job{old, recent} {
		_, err := store.ClaimJob(ctx, j.JobID, "worker-1", 1)
		require.NoError(t, err)
		require.NoError(t, store.MarkSucceeded(ctx, j.JobID, "run://x"))
	}
	_, err := store.db.ExecContext(ctx,
		`UPDATE jobs SET ended_at = ? WHERE job_id = ?`,
		time.Now().UTC().Add(-14*24*time.Hour), old.JobID)
	require.NoError(t, err)

	_, err = store.PruneTerminal(ctx, 0, false)
	assert.Error(t, err)

	pruned, err := store.PruneTerminal(ctx, 7*24*time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, []string{old.JobID}, pruned)
	_, err = store.Get(ctx, old.JobID)
	require.NoError(t, err, "dry run must not delete")

	pruned, err = store.PruneTerminal(ctx, 7*24*time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, []string{old.JobID}, pruned)

	_, err = store.Get(ctx, old.JobID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, recent.JobID)
	assert.NoError(t, err)
	_, err = store.Get(ctx, queued.JobID)
	assert.NoError(t, err)
}

func TestAuditLog(t *testing.T) {
	audit := NewAuditLog(t.TempDir())

	require.NoError(t, audit.Append("job-1", "submitted", ""))
	require.NoError(t, audit.Append("job-1", "failed", "panic: index out of range\nstack trace line"))

	content, err := audit.Read("job-1")
	require.NoError(t, err)
	assert.Contains(t, content, "submitted")
	assert.Contains(t, content, "failed")
	assert.Contains(t, content, "stack trace line")
	assert.Equal(t, 2, strings.Count(content, "submitted")+strings.Count(content, "failed"))

	require.NoError(t, audit.Remove("job-1"))
	_, err = audit.Read("job-1")
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, audit.Append("", "event", ""))
	assert.Error(t, NewAuditLog("").Append("job-1", "event", ""))
}

func TestJobStateHelpers(t *testing.T) {
	terminal := []JobState{JobStateSucceeded, JobStateFailed, JobStateAborted, JobStateKilled, JobStateOrphaned}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.True(t, s.Valid())
	}
	assert.False(t, JobStateQueued.IsTerminal())
	assert.False(t, JobStateRunning.IsTerminal())
	assert.True(t, JobStateQueued.Valid())
	assert.False(t, JobState("BOGUS").Valid())
}
