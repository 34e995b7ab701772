package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	dst := filepath.Join(dir, "sub", "b.pdf")
	require.NoError(t, EnsureDir(filepath.Dir(dst)))
	require.NoError(t, os.WriteFile(src, []byte("report"), 0644))

	require.NoError(t, MoveFile(src, dst))
	assert.False(t, Exists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))
}

func TestMoveFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := MoveFile(filepath.Join(dir, "missing.pdf"), filepath.Join(dir, "out.pdf"))
	assert.ErrorIs(t, err, ErrSourceGone)
	assert.False(t, Exists(filepath.Join(dir, "out.pdf")))
}

func TestMoveFileMissingSourceKeepsDestination(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "ReportePDA_Juan.pdf")
	require.NoError(t, os.WriteFile(dst, []byte("filed by another worker"), 0644))

	err := MoveFile(filepath.Join(dir, "gone.pdf"), dst)
	assert.ErrorIs(t, err, ErrSourceGone)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "filed by another worker", string(data))
}

func TestMoveFileRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	dst := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	err := MoveFile(src, dst)
	assert.ErrorIs(t, err, os.ErrExist)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.True(t, Exists(src), "source is kept when the move is refused")
}

func TestMoveFileDestinationIsSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	dst := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(src, []byte("report"), 0644))
	require.NoError(t, os.Link(src, dst))

	require.NoError(t, MoveFile(src, dst))
	assert.False(t, Exists(src))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))
}

func TestCopyFileExclusive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.pdf")
	dst := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	assert.ErrorIs(t, copyFile(src, dst), os.ErrExist)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	fresh := filepath.Join(dir, "c.pdf")
	require.NoError(t, copyFile(src, fresh))
	data, err = os.ReadFile(fresh)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, n, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, ComputeChecksum([]byte("abc")), sum)
	assert.Equal(t, "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", sum)

	_, _, err = FileChecksum(path + ".missing")
	assert.Error(t, err)
}
