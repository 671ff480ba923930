package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForFile_AppearsLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = os.WriteFile(path, []byte("x"), 0o644)
	}()

	err := WaitForFile(context.Background(), path, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitForFile_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.csv")

	err := WaitForFile(context.Background(), path, 30*time.Millisecond, 10*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotDownloaded))
}

func TestWaitForFile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForFile(ctx, filepath.Join(t.TempDir(), "never.csv"), time.Minute, 10*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wait cancelled")
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// already gone
	assert.NoError(t, Remove(path))
}
