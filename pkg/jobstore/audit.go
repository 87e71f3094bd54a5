package jobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuditLog is the append-only, per-job log for full failure detail and
// lifecycle notes. The job row only ever carries a truncated message;
// anything longer lands here.
//
// Directory layout:
//
//	<root>/<job_id>/audit.log
//
// Root is expected to be under the app data dir.
type AuditLog struct {
	root string
}

func NewAuditLog(root string) *AuditLog {
	return &AuditLog{root: strings.TrimSpace(root)}
}

func (a *AuditLog) RootDir() string {
	return a.root
}

func (a *AuditLog) JobDir(jobID string) string {
	return filepath.Join(a.root, jobID)
}

func (a *AuditLog) LogPath(jobID string) string {
	return filepath.Join(a.JobDir(jobID), "audit.log")
}

// Append writes one timestamped entry. Entries are newline-framed; embedded
// newlines in detail are preserved so stack traces stay readable.
func (a *AuditLog) Append(jobID, event, detail string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}
	if strings.TrimSpace(a.root) == "" {
		return fmt.Errorf("audit log root dir is empty")
	}

	if err := os.MkdirAll(a.JobDir(jobID), 0755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	f, err := os.OpenFile(a.LogPath(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	line := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), event)
	if detail != "" {
		line += "\n" + detail
	}
	line += "\n"

	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	return f.Close()
}

// Read returns the raw audit log contents for a job.
func (a *AuditLog) Read(jobID string) (string, error) {
	b, err := os.ReadFile(a.LogPath(jobID))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Remove deletes a job's audit directory. Only the gc path calls this;
// lifecycle code never deletes.
func (a *AuditLog) Remove(jobID string) error {
	return os.RemoveAll(a.JobDir(jobID))
}
