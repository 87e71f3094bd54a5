package worker

import (
	"context"
	"time"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// startHeartbeat emits background liveness heartbeats for a claimed job at
// the given interval, independent of the handler's own progress reports.
// Returns a stop func that blocks until the goroutine has exited.
func startHeartbeat(ctx context.Context, store *jobstore.Store, jobID string, interval time.Duration) func() {
	if store == nil || jobID == "" || interval <= 0 {
		return func() {}
	}

	stopped := make(chan struct{})
	stop := make(chan struct{})

	go func() {
		defer close(stopped)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				// Liveness only; progress/phase are the handler's to report.
				_ = store.TouchHeartbeat(ctx, jobID)
			}
		}
	}()

	return func() {
		close(stop)
		<-stopped
	}
}
