package jobstore

import "time"

// JobState is the lifecycle state of a job.
//
// NOTE: These values are persisted in the jobs table and are part of the
// stable on-disk contract.
type JobState string

const (
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
	JobStateAborted   JobState = "ABORTED"
	JobStateKilled    JobState = "KILLED"
	JobStateOrphaned  JobState = "ORPHANED"
)

// IsTerminal reports whether s is a terminal state. Terminal rows are
// immutable: every Mark* operation refuses to move a job out of one.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateAborted, JobStateKilled, JobStateOrphaned:
		return true
	}
	return false
}

// Valid reports whether s is one of the known lifecycle states.
func (s JobState) Valid() bool {
	switch s {
	case JobStateQueued, JobStateRunning, JobStateSucceeded, JobStateFailed,
		JobStateAborted, JobStateKilled, JobStateOrphaned:
		return true
	}
	return false
}

// JobType selects which registered handler executes a job.
type JobType string

const (
	JobTypeBacktest  JobType = "RUN_BACKTEST"
	JobTypePortfolio JobType = "BUILD_PORTFOLIO"
	JobTypeFreeze    JobType = "FREEZE_BATCH"
	JobTypeCompile   JobType = "COMPILE_FEATURES"
)

// KnownJobTypes lists every job type the platform dispatches.
func KnownJobTypes() []JobType {
	return []JobType{JobTypeBacktest, JobTypePortfolio, JobTypeFreeze, JobTypeCompile}
}

// Job is the persistent record of one unit of work.
//
// The schema is designed for backward-compatible extension (additive fields).
type Job struct {
	JobID      string         `json:"job_id"`
	JobType    JobType        `json:"job_type"`
	Params     map[string]any `json:"params"`
	ParamsHash string         `json:"params_hash"`
	State      JobState       `json:"state"`
	BatchID    string         `json:"batch_id,omitempty"`

	AbortRequested bool `json:"abort_requested"`
	PauseRequested bool `json:"pause_requested"`

	WorkerID string `json:"worker_id,omitempty"`
	PID      int    `json:"pid,omitempty"`

	Progress float64 `json:"progress,omitempty"`
	Phase    string  `json:"phase,omitempty"`

	// ResultRef is an opaque pointer to where the handler's output lives
	// (run link, report link). The core never dereferences it.
	ResultRef string `json:"result_ref,omitempty"`

	// Error holds the truncated failure message. Full detail goes to the
	// per-job audit log, never to the row.
	Error string `json:"error,omitempty"`

	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobSpec is what a submitter provides; everything else is assigned by
// the store at insert time.
type JobSpec struct {
	JobType JobType        `json:"job_type" yaml:"job_type"`
	Params  map[string]any `json:"params" yaml:"params"`
	BatchID string         `json:"batch_id,omitempty" yaml:"batch_id,omitempty"`
}

// Batch is metadata over a set of jobs submitted together. It has no
// lifecycle of its own beyond referencing its member job rows.
type Batch struct {
	BatchID   string    `json:"batch_id"`
	Season    string    `json:"season,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dataset is a registered input dataset. Fingerprint is the content hash
// proving the dataset's identity; jobs that reference a dataset without
// one are rejected at admission.
type Dataset struct {
	Name         string    `json:"name"`
	Fingerprint  string    `json:"fingerprint"`
	RegisteredAt time.Time `json:"registered_at"`
}
