package supervisor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessStartAndStop(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	l := NewLiveness(root, "supervisor")
	stop, err := l.Start(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	// Pid file and heartbeat exist immediately.
	pid, err := os.ReadFile(l.pidPath())
	require.NoError(t, err)
	assert.NotEmpty(t, pid)
	_, err = os.ReadFile(l.heartbeatPath())
	require.NoError(t, err)

	statuses, err := ReadStatuses(root)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "supervisor", statuses[0].OwnerID)
	assert.Equal(t, os.Getpid(), statuses[0].PID)
	assert.True(t, statuses[0].Alive)
	require.NotNil(t, statuses[0].HeartbeatAt)

	// Clean shutdown removes the owner dir entirely.
	stop()
	_, err = os.Stat(l.OwnerDir())
	assert.True(t, os.IsNotExist(err))
}

func TestLivenessHeartbeatAdvances(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	l := NewLiveness(root, "worker-1")
	stop, err := l.Start(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	defer stop()

	first, err := os.ReadFile(l.heartbeatPath())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := os.ReadFile(l.heartbeatPath())
		return err == nil && string(current) != string(first)
	}, 2*time.Second, 10*time.Millisecond, "heartbeat file should be rewritten")
}

func TestLivenessValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewLiveness("", "owner").Start(ctx, time.Second)
	assert.Error(t, err)

	_, err = NewLiveness(t.TempDir(), "").Start(ctx, time.Second)
	assert.Error(t, err)
}

func TestReadStatusesOrdering(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	older := NewLiveness(root, "older")
	stopOlder, err := older.Start(ctx, time.Hour)
	require.NoError(t, err)
	defer stopOlder()

	time.Sleep(20 * time.Millisecond)

	newer := NewLiveness(root, "newer")
	stopNewer, err := newer.Start(ctx, time.Hour)
	require.NoError(t, err)
	defer stopNewer()

	statuses, err := ReadStatuses(root)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "newer", statuses[0].OwnerID, "newest heartbeat sorts first")
	assert.Equal(t, "older", statuses[1].OwnerID)
}

func TestReadStatusesMissingRoot(t *testing.T) {
	statuses, err := ReadStatuses("/nonexistent/liveness/root")
	require.NoError(t, err)
	assert.Nil(t, statuses)
}

func TestReadStatusesSkipsPartialDirs(t *testing.T) {
	root := t.TempDir()

	// A dir without a pid file is skipped, not an error.
	require.NoError(t, os.MkdirAll(root+"/broken", 0755))

	l := NewLiveness(root, "healthy")
	stop, err := l.Start(context.Background(), time.Hour)
	require.NoError(t, err)
	defer stop()

	statuses, err := ReadStatuses(root)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "healthy", statuses[0].OwnerID)
}

func TestIsProcessAlive(t *testing.T) {
	assert.True(t, isProcessAlive(os.Getpid()))
	assert.False(t, isProcessAlive(0))
	assert.False(t, isProcessAlive(-1))
	assert.False(t, isProcessAlive(1<<30))
}
