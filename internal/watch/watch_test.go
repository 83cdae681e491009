package watch

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
)

func TestRunRebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "uprocd"), 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var builds atomic.Int32
	w := &Watcher{Root: root, Dirs: []string{"src", "missing"}, Debounce: 20 * time.Millisecond}
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			builds.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return builds.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "uprocd", "main.c"), []byte("int main;"), 0o644))
	require.Eventually(t, func() bool { return builds.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRelevant(t *testing.T) {
	assert.True(t, relevant(fsnotify.Event{Name: "src/main.c", Op: fsnotify.Write}))
	assert.False(t, relevant(fsnotify.Event{Name: "src/main.c", Op: fsnotify.Chmod}))
	assert.False(t, relevant(fsnotify.Event{Name: "src/.main.c.swp", Op: fsnotify.Create}))
	assert.False(t, relevant(fsnotify.Event{Name: "src/main.c~", Op: fsnotify.Write}))
}
