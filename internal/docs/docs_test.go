package docs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubuild/internal/cache"
	"ubuild/internal/execx"
	"ubuild/internal/execx/exectest"
	"ubuild/internal/sched"
	"ubuild/internal/task"
)

func runner(t *testing.T, dir string) *task.Runner {
	t.Helper()
	store, err := cache.Open(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return task.NewRunner(store, nil)
}

func writePages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	var out []string
	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("# "+n), 0o644))
		out = append(out, p)
	}
	return out
}

// mrkdFake writes the destination argument of every mrkd call.
func mrkdFake() *exectest.Fake {
	return &exectest.Fake{Handler: func(dir string, argv []string) ([]byte, error) {
		return nil, os.WriteFile(argv[2], []byte(argv[len(argv)-1]), 0o644)
	}}
}

func TestMrkdBuildAll(t *testing.T) {
	src := t.TempDir()
	build := t.TempDir()
	srcs := writePages(t, src, "man/uprocctl.1.md", "man/python.module.7.md")
	index := writePages(t, src, "man/index.ini")[0]

	fake := mrkdFake()
	m := &Mrkd{
		Exe:     "mrkd",
		Index:   index,
		OutDirs: map[Format]string{Roff: filepath.Join(build, "man"), HTML: filepath.Join(build, "web")},
		Runner:  runner(t, t.TempDir()),
		Cmd:     fake,
	}

	pages, err := BuildAll(context.Background(), sched.New(4), m, srcs)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, filepath.Join(build, "man", "uprocctl.1"), pages[0].Man)
	assert.Equal(t, filepath.Join(build, "web", "uprocctl.1.html"), pages[0].HTML)
	assert.Equal(t, "1", pages[0].Section())
	assert.Equal(t, "uprocctl", pages[0].Stem())

	assert.Equal(t, "7", pages[1].Section())
	assert.Equal(t, "python.module", pages[1].Stem())

	assert.Equal(t, 4, fake.Count("mrkd"))
	for _, c := range fake.Calls() {
		assert.Equal(t, []string{"-index", index, "-format"}, c[3:6])
	}
}

func TestMrkdIndexChangeRerenders(t *testing.T) {
	src := t.TempDir()
	cacheDir := t.TempDir()
	srcs := writePages(t, src, "man/uprocd.8.md")
	index := writePages(t, src, "man/index.ini")[0]

	fake := mrkdFake()
	newMrkd := func() *Mrkd {
		return &Mrkd{
			Exe:     "mrkd",
			Index:   index,
			OutDirs: map[Format]string{Roff: filepath.Join(src, "out"), HTML: filepath.Join(src, "out")},
			Runner:  runner(t, cacheDir),
			Cmd:     fake,
		}
	}

	m := newMrkd()
	_, err := Build(context.Background(), sched.New(2), m, srcs[0])
	require.NoError(t, err)
	require.NoError(t, m.Runner.Store().Close())

	fake.Reset()
	m = newMrkd()
	_, err = Build(context.Background(), sched.New(2), m, srcs[0])
	require.NoError(t, err)
	assert.Empty(t, fake.Calls())
	require.NoError(t, m.Runner.Store().Close())

	require.NoError(t, os.WriteFile(index, []byte("[pages]\nuprocd.8 = uprocd.8.html\n"), 0o644))
	m = newMrkd()
	_, err = Build(context.Background(), sched.New(2), m, srcs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, fake.Count("mrkd"))
}

func TestRonnRunsOncePerPage(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	srcs := writePages(t, src, "man/u.1.ronn")
	script := writePages(t, src, "scripts/ronn.rb")[0]

	fake := &exectest.Fake{Handler: func(dir string, argv []string) ([]byte, error) {
		outdir, page := argv[2], argv[3]
		name := pageName(page)
		if err := os.WriteFile(filepath.Join(outdir, name), []byte(".TH"), 0o644); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(filepath.Join(outdir, name+".html"), []byte("<h1>"), 0o644)
	}}
	r := &Ronn{Ruby: "ruby", Script: script, OutDir: out, Runner: runner(t, t.TempDir()), Cmd: fake}

	page, err := Build(context.Background(), sched.New(2), r, srcs[0])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "u.1"), page.Man)
	assert.Equal(t, filepath.Join(out, "u.1.html"), page.HTML)
	assert.Equal(t, 1, fake.Count("ruby"))
}

func TestRendererFailureAbortsPage(t *testing.T) {
	src := t.TempDir()
	srcs := writePages(t, src, "man/uprocd.8.md")
	index := writePages(t, src, "man/index.ini")[0]

	fake := &exectest.Fake{Handler: func(dir string, argv []string) ([]byte, error) {
		return nil, &execx.ExitError{Argv: argv, Code: 2}
	}}
	m := &Mrkd{
		Exe:     "mrkd",
		Index:   index,
		OutDirs: map[Format]string{Roff: t.TempDir(), HTML: t.TempDir()},
		Runner:  runner(t, t.TempDir()),
		Cmd:     fake,
	}
	_, err := BuildAll(context.Background(), sched.New(2), m, srcs)
	var exit *execx.ExitError
	assert.ErrorAs(t, err, &exit)
}
