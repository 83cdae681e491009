package install

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubuild/internal/console"
	"ubuild/internal/execx"
	"ubuild/internal/execx/exectest"
	"ubuild/internal/manifest"
)

// built writes a small build directory and its manifest.
func built(t *testing.T) (string, []manifest.Record) {
	t.Helper()
	build := t.TempDir()
	bin := filepath.Join(build, "uprocctl")
	require.NoError(t, os.WriteFile(bin, []byte("ELF"), 0o755))
	require.NoError(t, os.Symlink("uprocctl", filepath.Join(build, "u")))
	unit := filepath.Join(build, "cgrmvd.service")
	require.NoError(t, os.WriteFile(unit, []byte("[Unit]"), 0o644))

	recs, err := manifest.Records([]manifest.Entry{
		{Source: bin, Dir: "bin"},
		{Source: filepath.Join(build, "u"), Dir: "bin"},
		{Source: unit, Dir: "lib/systemd/system"},
	}, "usr")
	require.NoError(t, err)
	require.NoError(t, manifest.Write(filepath.Join(build, manifest.FileName), recs))
	return build, recs
}

func TestInstallCopiesManifest(t *testing.T) {
	build, _ := built(t)
	dest := t.TempDir()

	recs, err := Load(build)
	require.NoError(t, err)
	require.NoError(t, Install(recs, dest, nil))

	data, err := os.ReadFile(filepath.Join(dest, "usr/bin/uprocctl"))
	require.NoError(t, err)
	assert.Equal(t, "ELF", string(data))
	info, err := os.Stat(filepath.Join(dest, "usr/bin/uprocctl"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dest, "usr/bin/u"))
	require.NoError(t, err)
	assert.Equal(t, "uprocctl", link)

	assert.FileExists(t, filepath.Join(dest, "usr/lib/systemd/system/cgrmvd.service"))
}

func TestInstallRejectsStaleSources(t *testing.T) {
	build, recs := built(t)
	require.NoError(t, os.WriteFile(filepath.Join(build, "uprocctl"), []byte("newer"), 0o755))

	dest := t.TempDir()
	var stale *StaleError
	require.ErrorAs(t, Install(recs, dest, nil), &stale)
	assert.NoFileExists(t, filepath.Join(dest, "usr/lib/systemd/system/cgrmvd.service"))
}

func TestLoadWithoutBuild(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestHooksDisabled(t *testing.T) {
	fake := &exectest.Fake{}
	h := Hooks{Systemctl: "/usr/bin/systemctl", Cmd: fake}
	h.PreInstall(context.Background())
	h.PostInstall(context.Background())
	assert.Empty(t, fake.Calls())
}

func TestHooksIgnoreFailures(t *testing.T) {
	fake := &exectest.Fake{Handler: func(dir string, argv []string) ([]byte, error) {
		return nil, &execx.ExitError{Argv: argv, Code: 5}
	}}
	var buf bytes.Buffer
	h := Hooks{Enabled: true, Systemctl: "/usr/bin/systemctl", Cmd: fake, Log: console.New(&buf, false)}

	h.PreInstall(context.Background())
	h.PostInstall(context.Background())

	assert.Equal(t, [][]string{
		{"/usr/bin/systemctl", "stop", "cgrmvd"},
		{"/usr/bin/systemctl", "--user", "stop", "uprocd.slice"},
		{"/usr/bin/systemctl", "daemon-reload"},
		{"/usr/bin/systemctl", "--user", "daemon-reload"},
	}, fake.Calls())
	assert.Contains(t, buf.String(), "systemctl stop cgrmvd")
}

func TestHooksWithoutSystemctl(t *testing.T) {
	fake := &exectest.Fake{}
	var buf bytes.Buffer
	Hooks{Enabled: true, Cmd: fake, Log: console.New(&buf, false)}.PreInstall(context.Background())
	assert.Empty(t, fake.Calls())
	assert.Contains(t, buf.String(), "systemctl was not found")
}

func TestDistRoundTrip(t *testing.T) {
	_, recs := built(t)
	for _, f := range []Format{Zstd, Gzip, XZ} {
		t.Run(string(f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "uprocd"+f.Ext())
			require.NoError(t, Dist(path, recs, f))

			names, err := ListArchive(path)
			require.NoError(t, err)
			assert.Equal(t, []string{
				"usr/bin/u",
				"usr/bin/uprocctl",
				"usr/lib/systemd/system/cgrmvd.service",
			}, names)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":               Zstd,
		"gzip":           Gzip,
		"out/uprocd.tgz": Gzip,
		"uprocd.tar.xz":  XZ,
		"uprocd.tar.zst": Zstd,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("uprocd.zip")
	assert.ErrorContains(t, err, "unsupported")
}
