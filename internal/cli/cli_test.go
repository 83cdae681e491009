package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ubuild/internal/cache"
	"ubuild/internal/install"
	"ubuild/internal/manifest"
)

func TestRunHelpAndUnknown(t *testing.T) {
	assert.Equal(t, 0, Run(nil, nil))
	assert.Equal(t, 0, Run([]string{"help"}, nil))
	assert.Equal(t, 0, Run([]string{"version"}, nil))
	assert.Equal(t, 1, Run([]string{"frobnicate"}, nil))
	assert.Equal(t, 1, Run([]string{"cache"}, nil))
}

func TestEnvBool(t *testing.T) {
	env := []string{"UBUILD_DEBUG=1", "NO_COLOR=0"}
	assert.True(t, envBool(env, "UBUILD_DEBUG"))
	assert.False(t, envBool(env, "NO_COLOR"))
	assert.False(t, envBool(env, "UNSET"))
}

// fakeBuild writes a build directory holding a manifest, as left behind
// by a build.
func fakeBuild(t *testing.T) (src, buildDir string) {
	t.Helper()
	src = t.TempDir()
	buildDir = filepath.Join(src, "build")
	bin := filepath.Join(buildDir, "uprocctl")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	require.NoError(t, os.WriteFile(bin, []byte("ELF"), 0o755))
	require.NoError(t, os.Symlink("uprocctl", filepath.Join(buildDir, "u")))

	recs, err := manifest.Records([]manifest.Entry{
		{Source: bin, Dir: "bin"},
		{Source: filepath.Join(buildDir, "u"), Dir: "bin"},
	}, "usr")
	require.NoError(t, err)
	require.NoError(t, manifest.Write(filepath.Join(buildDir, manifest.FileName), recs))
	return src, buildDir
}

func TestDistCommand(t *testing.T) {
	src, buildDir := fakeBuild(t)
	out := filepath.Join(t.TempDir(), "uprocd.tar.gz")

	code := Run([]string{"dist", "--source-dir", src, "--format", "gz", "-o", out}, nil)
	require.Equal(t, 0, code)

	names, err := install.ListArchive(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"usr/bin/u", "usr/bin/uprocctl"}, names)
	assert.NoFileExists(t, filepath.Join(buildDir, "uprocd.tar.zst"))
}

func TestInstallCommand(t *testing.T) {
	src, _ := fakeBuild(t)
	dest := t.TempDir()

	code := Run([]string{"install", "--source-dir", src, "--destdir", dest}, nil)
	require.Equal(t, 0, code)
	assert.FileExists(t, filepath.Join(dest, "usr/bin/uprocctl"))
}

func TestInstallSkipsHooksWhenBuildDirIsLocked(t *testing.T) {
	src, buildDir := fakeBuild(t)
	dest := t.TempDir()
	store, err := cache.Open(filepath.Join(buildDir, cacheDir), nil)
	require.NoError(t, err)
	defer store.Close()

	code := Run([]string{"install", "--source-dir", src, "--destdir", dest}, []string{"UBUILD_AUTO_SERVICE=1"})
	require.Equal(t, 0, code)
	assert.FileExists(t, filepath.Join(dest, "usr/bin/uprocctl"))
	assert.Equal(t, 0, Run([]string{"post_install", "--source-dir", src}, []string{"UBUILD_AUTO_SERVICE=1"}))
}

func TestInstallWithoutBuildFails(t *testing.T) {
	src := t.TempDir()
	assert.Equal(t, 1, Run([]string{"install", "--source-dir", src, "--destdir", t.TempDir()}, nil))
}

func TestCacheStats(t *testing.T) {
	src := t.TempDir()
	assert.Equal(t, 0, Run([]string{"cache", "stats", "--source-dir", src}, nil))
	assert.DirExists(t, filepath.Join(src, "build", cacheDir))
	assert.Equal(t, 0, Run([]string{"cache", "clean", "--source-dir", src}, nil))
	assert.Equal(t, 1, Run([]string{"cache", "push", "--source-dir", src}, nil), "no bucket configured")
}
