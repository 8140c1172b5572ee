package cmddb

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadReplacesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmd.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+",NOP,OBC,0x0000,0\n"), 0o600))

	w := NewWatcher(path)
	assert.Equal(t, 1, w.Current().Len())

	var calls atomic.Int32
	w.OnReload(func(db *Database) { calls.Add(1) })

	require.NoError(t, os.WriteFile(path, []byte(header+",NOP,OBC,0x0000,0\n,HK,OBC,0x0001,0\n"), 0o600))
	w.Reload()

	assert.Equal(t, 2, w.Current().Len())
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherRunPicksUpWrites(t *testing.T) {
	origDebounce := watchDebounce
	watchDebounce = 10 * time.Millisecond
	t.Cleanup(func() { watchDebounce = origDebounce })

	path := filepath.Join(t.TempDir(), "cmd.csv")
	require.NoError(t, os.WriteFile(path, []byte(header), 0o600))

	w := NewWatcher(path)
	require.Equal(t, 0, w.Current().Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(header+",NOP,OBC,0x0000,0\n"), 0o600))

	assert.Eventually(t, func() bool { return w.Current().Len() == 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}
