package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		require.NoError(t, os.Chdir(orig))
	})
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte{}, 0755))
}

func TestLocateFallsBackToBareName(t *testing.T) {
	chdir(t, t.TempDir())
	assert.Equal(t, BinaryName, Locate())
}

func TestLocateFindsWorkingDirCandidate(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, BinaryName))
	chdir(t, dir)

	got := Locate()
	assert.True(t, filepath.IsAbs(got))
	assert.Equal(t, filepath.Join(dir, BinaryName), got)
}

func TestLocateFindsBuildOutputCandidate(t *testing.T) {
	base := t.TempDir()
	built := filepath.Join(base, "app-server", "target", "release", BinaryName)
	touch(t, built)
	wd := filepath.Join(base, "wd")
	require.NoError(t, os.MkdirAll(wd, 0755))
	chdir(t, wd)

	assert.Equal(t, built, Locate())
}

func TestLocateWorkingDirBeatsBuildOutput(t *testing.T) {
	base := t.TempDir()
	touch(t, filepath.Join(base, "app-server", "target", "release", BinaryName))
	wd := filepath.Join(base, "wd")
	touch(t, filepath.Join(wd, BinaryName))
	chdir(t, wd)

	assert.Equal(t, filepath.Join(wd, BinaryName), Locate())
}
