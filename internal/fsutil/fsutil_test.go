package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "uprocctl")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0o755))

	dst := filepath.Join(dir, "out", "bin", "uprocctl")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestCopyFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.ErrorContains(t, CopyFile(dir, filepath.Join(dir, "x")), "not a regular file")
}

func TestSymlinkReplaces(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "u")
	require.NoError(t, Symlink("first", link))
	require.NoError(t, Symlink("second", link))

	got, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
}

func TestCopyPreservesLinks(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "u")
	require.NoError(t, os.Symlink("uprocctl", link))

	dst := filepath.Join(dir, "root", "usr", "bin", "u")
	require.NoError(t, Copy(link, dst))
	got, err := os.Readlink(dst)
	require.NoError(t, err)
	assert.Equal(t, "uprocctl", got)
}
