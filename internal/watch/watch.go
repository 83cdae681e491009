// Package watch reruns the build whenever the source tree changes.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"

	"ubuild/internal/console"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher watches Dirs below Root.
type Watcher struct {
	Root     string
	Dirs     []string
	Debounce time.Duration
	Log      *console.Logger
}

// Run calls rebuild once, then again after every settled batch of
// changes, until ctx is done. A failing rebuild is reported and watching
// goes on.
func (w *Watcher) Run(ctx context.Context, rebuild func(context.Context) error) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, d := range w.Dirs {
		if err := w.addTree(fw, filepath.Join(w.Root, d)); err != nil {
			_ = fw.Close()
			return err
		}
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	trigger := make(chan struct{}, 1)
	fire := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() { _ = fw.Close() })

	var mu sync.Mutex
	var timer *time.Timer
	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		})
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					return nil
				}
				if !relevant(ev) {
					continue
				}
				if ev.Has(fsnotify.Create) {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						if err := w.addTree(fw, ev.Name); err != nil {
							w.Log.Warn("watch %s: %v", ev.Name, err)
						}
					}
				}
				w.Log.Debugf("changed: %s", ev.Name)
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, fire)
				mu.Unlock()
			case err, ok := <-fw.Errors:
				if !ok {
					return nil
				}
				w.Log.Warn("watch: %v", err)
			}
		}
	})

	once := func() {
		if err := rebuild(ctx); err != nil {
			w.Log.Error("%v", err)
			return
		}
		w.Log.Arrow("Build finished, watching for changes")
	}
	once()
	for {
		select {
		case <-ctx.Done():
			sctx.Stop(100 * time.Millisecond)
			return sctx.Wait()
		case <-trigger:
			once()
		}
	}
}

// addTree watches dir and every directory below it. A missing dir is
// skipped.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// relevant drops attribute changes and editor scratch files.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(ev.Name)
	return !strings.HasPrefix(base, ".") &&
		!strings.HasSuffix(base, "~") &&
		!strings.HasSuffix(base, ".swp")
}
