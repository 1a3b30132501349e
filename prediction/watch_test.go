package prediction

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartrisk/ml"
)

func TestIsArtifactEvent(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/models/" + ml.PipelineFile, Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/models/" + ml.ColumnsFile, Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/models/" + ml.ExplainerFile, Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "/models/" + ml.PipelineFile, Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/models/notes.txt", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isArtifactEvent(tt.event), "%s", tt.event)
	}
}

func TestWatcherStartMissingDirClosesWatcher(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), NewArtifactStore(nil, nil), nil, nil)
	require.NoError(t, err)

	require.Error(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.watcher.Add(t.TempDir()), fsnotify.ErrClosed)
	w.Stop()
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	for name, file := range fixtureFS(t) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), file.Data, 0o644))
	}

	store := NewArtifactStoreFromDir(dir, nil)
	require.NoError(t, store.Load())

	var reloads atomic.Int32
	w, err := NewWatcher(dir, store, nil, func(uint64, error) { reloads.Add(1) })
	require.NoError(t, err)
	w.SetDebounce(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	columns, err := os.ReadFile(filepath.Join(dir, ml.ColumnsFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ml.ColumnsFile), columns, 0o644))

	require.Eventually(t, func() bool { return store.Generation() >= 2 }, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestWatcherKeepsSnapshotOnBrokenArtifact(t *testing.T) {
	dir := t.TempDir()
	for name, file := range fixtureFS(t) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), file.Data, 0o644))
	}
	store := NewArtifactStoreFromDir(dir, nil)
	require.NoError(t, store.Load())

	failures := make(chan error, 4)
	w, err := NewWatcher(dir, store, nil, func(_ uint64, err error) {
		if err != nil {
			failures <- err
		}
	})
	require.NoError(t, err)
	w.SetDebounce(50 * time.Millisecond)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, ml.ExplainerFile), []byte("{"), 0o644))

	select {
	case err := <-failures:
		assert.ErrorIs(t, err, ErrArtifactInvalid)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not attempted")
	}
	assert.Equal(t, uint64(1), store.Generation())
	assert.True(t, store.Ready())
}
