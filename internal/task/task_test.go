package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubuild/internal/cache"
)

// invocation opens the store the way one ubuild run does and returns a
// fresh Runner over it.
func invocation(t *testing.T, dir string) *Runner {
	t.Helper()
	store, err := cache.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewRunner(store, nil)
}

func closeStore(t *testing.T, r *Runner) {
	t.Helper()
	require.NoError(t, r.Store().Close())
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// upper is a toy operation: copies src to dst upper-cased and counts runs.
func upper(runs *atomic.Int32, src, dst string) Func[string] {
	return func(ctx context.Context, rec *Recorder) (string, error) {
		runs.Add(1)
		data, err := os.ReadFile(src)
		if err != nil {
			return "", err
		}
		out := make([]byte, len(data))
		for i, b := range data {
			if b >= 'a' && b <= 'z' {
				b -= 'a' - 'A'
			}
			out[i] = b
		}
		return dst, os.WriteFile(dst, out, 0o644)
	}
}

func TestUnchangedInputsHitOnSecondInvocation(t *testing.T) {
	cacheDir := t.TempDir()
	work := t.TempDir()
	src := filepath.Join(work, "page.md")
	dst := filepath.Join(work, "PAGE")
	write(t, src, "hello")
	spec := Spec{Op: "upper", Inputs: []string{src}, Outputs: []string{dst}}

	var runs atomic.Int32

	r1 := invocation(t, cacheDir)
	got, status, err := DoStatus(context.Background(), r1, spec, upper(&runs, src, dst))
	require.NoError(t, err)
	assert.Equal(t, dst, got)
	assert.Equal(t, Ran, status)
	closeStore(t, r1)

	r2 := invocation(t, cacheDir)
	got, status, err = DoStatus(context.Background(), r2, spec, upper(&runs, src, dst))
	require.NoError(t, err)
	assert.Equal(t, dst, got)
	assert.Equal(t, Hit, status)
	assert.EqualValues(t, 1, runs.Load())
	assert.Equal(t, Stats{Hits: 1}, r2.Stats())
}

func TestChangedInputReexecutesAndUpdatesEntry(t *testing.T) {
	cacheDir := t.TempDir()
	work := t.TempDir()
	src := filepath.Join(work, "page.md")
	dst := filepath.Join(work, "PAGE")
	write(t, src, "hello")
	spec := Spec{Op: "upper", Inputs: []string{src}, Outputs: []string{dst}}

	var runs atomic.Int32
	r1 := invocation(t, cacheDir)
	_, err := Do(context.Background(), r1, spec, upper(&runs, src, dst))
	require.NoError(t, err)
	closeStore(t, r1)

	write(t, src, "goodbye")

	r2 := invocation(t, cacheDir)
	_, status, err := DoStatus(context.Background(), r2, spec, upper(&runs, src, dst))
	require.NoError(t, err)
	assert.Equal(t, Ran, status)
	assert.EqualValues(t, 2, runs.Load())

	out, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "GOODBYE", string(out))

	entry, ok := r2.Store().Lookup(spec.Key())
	require.True(t, ok)
	digest, err := cache.HashFile(src)
	require.NoError(t, err)
	require.Len(t, entry.Inputs, 1)
	assert.Equal(t, digest, entry.Inputs[0].Digest)
}

func TestMissingOutputForcesRerun(t *testing.T) {
	cacheDir := t.TempDir()
	work := t.TempDir()
	src := filepath.Join(work, "a")
	dst := filepath.Join(work, "A")
	write(t, src, "x")
	spec := Spec{Op: "upper", Inputs: []string{src}, Outputs: []string{dst}}

	var runs atomic.Int32
	r1 := invocation(t, cacheDir)
	_, err := Do(context.Background(), r1, spec, upper(&runs, src, dst))
	require.NoError(t, err)
	closeStore(t, r1)

	require.NoError(t, os.Remove(dst))

	r2 := invocation(t, cacheDir)
	_, status, err := DoStatus(context.Background(), r2, spec, upper(&runs, src, dst))
	require.NoError(t, err)
	assert.Equal(t, Ran, status)
	assert.FileExists(t, dst)
}

func TestFailureWritesNoEntry(t *testing.T) {
	r := invocation(t, t.TempDir())
	spec := Spec{Op: "broken", Args: []string{"x"}}
	boom := errors.New("exit status 1")

	_, err := Do(context.Background(), r, spec, func(context.Context, *Recorder) (string, error) {
		return "", boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "broken", terr.Op)

	_, ok := r.Store().Lookup(spec.Key())
	assert.False(t, ok)

	// The failure is not memoized either: a retry executes again.
	var calls int
	_, err = Do(context.Background(), r, spec, func(context.Context, *Recorder) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestMissingDeclaredInputFails(t *testing.T) {
	r := invocation(t, t.TempDir())
	spec := Spec{Op: "op", Inputs: []string{filepath.Join(t.TempDir(), "nope.c")}}
	_, err := Do(context.Background(), r, spec, func(context.Context, *Recorder) (int, error) {
		t.Fatal("operation must not run without its inputs")
		return 0, nil
	})
	assert.Error(t, err)
}

func TestUnproducedOutputFails(t *testing.T) {
	r := invocation(t, t.TempDir())
	spec := Spec{Op: "op", Outputs: []string{filepath.Join(t.TempDir(), "never")}}
	_, err := Do(context.Background(), r, spec, func(context.Context, *Recorder) (int, error) {
		return 1, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "was not produced")
	_, ok := r.Store().Lookup(spec.Key())
	assert.False(t, ok)
}

func TestDiscoveredInputInvalidates(t *testing.T) {
	cacheDir := t.TempDir()
	work := t.TempDir()
	src := filepath.Join(work, "main.c")
	hdr := filepath.Join(work, "util.h")
	obj := filepath.Join(work, "main.o")
	write(t, src, `#include "util.h"`)
	write(t, hdr, "#define X 1")

	var runs int
	compile := func(ctx context.Context, rec *Recorder) (string, error) {
		runs++
		rec.AddInputs(hdr)
		return obj, os.WriteFile(obj, []byte("obj"), 0o644)
	}
	spec := Spec{Op: "cc.compile", Inputs: []string{src}, Outputs: []string{obj}}

	r1 := invocation(t, cacheDir)
	_, err := Do(context.Background(), r1, spec, compile)
	require.NoError(t, err)
	closeStore(t, r1)

	r2 := invocation(t, cacheDir)
	_, status, err := DoStatus(context.Background(), r2, spec, compile)
	require.NoError(t, err)
	assert.Equal(t, Hit, status)
	closeStore(t, r2)

	write(t, hdr, "#define X 2")

	r3 := invocation(t, cacheDir)
	_, status, err = DoStatus(context.Background(), r3, spec, compile)
	require.NoError(t, err)
	assert.Equal(t, Ran, status)
	assert.Equal(t, 2, runs)
}

func TestDiscoveredOutputMustExist(t *testing.T) {
	cacheDir := t.TempDir()
	work := t.TempDir()
	extra := filepath.Join(work, "side.html")

	var runs int
	fn := func(ctx context.Context, rec *Recorder) (string, error) {
		runs++
		rec.AddOutputs(extra)
		return "done", os.WriteFile(extra, []byte("<p>"), 0o644)
	}
	spec := Spec{Op: "render"}

	r1 := invocation(t, cacheDir)
	_, err := Do(context.Background(), r1, spec, fn)
	require.NoError(t, err)
	closeStore(t, r1)

	require.NoError(t, os.Remove(extra))

	r2 := invocation(t, cacheDir)
	_, status, err := DoStatus(context.Background(), r2, spec, fn)
	require.NoError(t, err)
	assert.Equal(t, Ran, status)
	assert.Equal(t, 2, runs)
}

func TestSameKeyRunsOncePerInvocation(t *testing.T) {
	r := invocation(t, t.TempDir())
	spec := Spec{Op: "slow", Args: []string{"a"}}

	var runs atomic.Int32
	release := make(chan struct{})
	fn := func(ctx context.Context, rec *Recorder) (int, error) {
		runs.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), r, spec, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	v, status, err := DoStatus(context.Background(), r, spec, fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, Memo, status)
	assert.EqualValues(t, 1, runs.Load())
	for _, got := range results {
		assert.Equal(t, 42, got)
	}
}

func TestStructuredResultsRoundTrip(t *testing.T) {
	type lib struct {
		Path  string   `json:"path"`
		Flags []string `json:"flags"`
	}
	cacheDir := t.TempDir()
	spec := Spec{Op: "probe", Args: []string{"libsystemd"}}
	want := lib{Path: "/usr/lib/libsystemd.so", Flags: []string{"-lsystemd"}}

	r1 := invocation(t, cacheDir)
	_, err := Do(context.Background(), r1, spec, func(context.Context, *Recorder) (lib, error) {
		return want, nil
	})
	require.NoError(t, err)
	closeStore(t, r1)

	r2 := invocation(t, cacheDir)
	got, status, err := DoStatus(context.Background(), r2, spec, func(context.Context, *Recorder) (lib, error) {
		t.Fatal("must be cached")
		return lib{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, Hit, status)
	assert.Equal(t, want, got)
}
