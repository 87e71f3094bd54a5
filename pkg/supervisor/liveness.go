package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Liveness maintains an on-disk file pair for one supervisor or worker
// process so external probes can answer "is it alive" without the store.
//
// Directory layout:
//
//	<root>/<owner_id>/owner.pid
//	<root>/<owner_id>/heartbeat
//
// Both files are written with temp+rename so a reader never sees a torn
// write. Root is expected to be under the app data dir.
type Liveness struct {
	root    string
	ownerID string
}

// NewLiveness creates a liveness writer rooted at dir for the given owner.
func NewLiveness(root, ownerID string) *Liveness {
	return &Liveness{root: strings.TrimSpace(root), ownerID: strings.TrimSpace(ownerID)}
}

func (l *Liveness) OwnerDir() string {
	return filepath.Join(l.root, l.ownerID)
}

func (l *Liveness) pidPath() string {
	return filepath.Join(l.OwnerDir(), "owner.pid")
}

func (l *Liveness) heartbeatPath() string {
	return filepath.Join(l.OwnerDir(), "heartbeat")
}

func (l *Liveness) ensureDir() error {
	if l.root == "" {
		return fmt.Errorf("liveness root dir is empty")
	}
	if l.ownerID == "" {
		return fmt.Errorf("liveness owner id is empty")
	}
	return os.MkdirAll(l.OwnerDir(), 0755)
}

// Start writes the pid file and begins the heartbeat loop. The returned
// stop function blocks until the loop exits and removes the owner dir so
// a clean shutdown leaves no stale liveness behind.
func (l *Liveness) Start(ctx context.Context, interval time.Duration) (func(), error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if err := l.ensureDir(); err != nil {
		return nil, err
	}
	if err := writeAtomic(l.OwnerDir(), l.pidPath(), []byte(fmt.Sprintf("%d\n", os.Getpid()))); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	if err := l.beat(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				_ = l.beat()
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		_ = os.RemoveAll(l.OwnerDir())
	}, nil
}

func (l *Liveness) beat() error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if err := writeAtomic(l.OwnerDir(), l.heartbeatPath(), []byte(ts+"\n")); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

func writeAtomic(dir, path string, b []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// WorkerStatus is one owner's liveness as read back from disk.
type WorkerStatus struct {
	OwnerID      string     `json:"owner_id"`
	PID          int        `json:"pid"`
	Alive        bool       `json:"alive"`
	HeartbeatAt  *time.Time `json:"heartbeat_at,omitempty"`
	HeartbeatAge string     `json:"heartbeat_age,omitempty"`
}

// ReadStatuses scans a liveness root and reports every recorded owner,
// newest heartbeat first. A dir with an unreadable pair is skipped.
func ReadStatuses(root string) ([]WorkerStatus, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read liveness root: %w", err)
	}

	now := time.Now().UTC()
	out := make([]WorkerStatus, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		l := NewLiveness(root, entry.Name())
		st := WorkerStatus{OwnerID: entry.Name()}

		pidBytes, err := os.ReadFile(l.pidPath())
		if err != nil {
			continue
		}
		if _, err := fmt.Sscanf(strings.TrimSpace(string(pidBytes)), "%d", &st.PID); err != nil {
			continue
		}
		st.Alive = isProcessAlive(st.PID)

		if hb, err := os.ReadFile(l.heartbeatPath()); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(hb))); err == nil {
				ts = ts.UTC()
				st.HeartbeatAt = &ts
				st.HeartbeatAge = now.Sub(ts).Truncate(time.Second).String()
			}
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if out[i].HeartbeatAt != nil {
			ti = *out[i].HeartbeatAt
		}
		if out[j].HeartbeatAt != nil {
			tj = *out[j].HeartbeatAt
		}
		return ti.After(tj)
	})
	return out, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 checks for existence without sending a signal.
	if err := p.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	return true
}
