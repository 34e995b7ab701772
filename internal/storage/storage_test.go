package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestJoinKey(t *testing.T) {
	tests := []struct {
		prefix, rel, want string
	}{
		{"", "a.pdf", "a.pdf"},
		{"pda/", "a.pdf", "pda/a.pdf"},
		{"/pda/reports/", "sub/a.pdf", "pda/reports/sub/a.pdf"},
		{"pda", `sub\a.pdf`, "pda/sub/a.pdf"},
		{"pda", "../a.pdf", "pda/a.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinKey(tt.prefix, tt.rel), "%q + %q", tt.prefix, tt.rel)
	}
}

func TestMemStoreUploadHeadList(t *testing.T) {
	store, err := NewReportStore(StorageConfig{Backend: "mem", Prefix: "pda/"})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "ReportePDA_Ana.pdf", "%PDF-1.4 body")
	key := store.Key("ReportePDA_Ana.pdf")
	assert.Equal(t, "pda/ReportePDA_Ana.pdf", key)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := store.Upload(ctx, key, src)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.4 body")), info.Size)

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	head, err := store.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, info.Size, head.Size)

	keys, err := store.List(ctx, "pda/")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	assert.Equal(t, "mem://mem/pda/ReportePDA_Ana.pdf", store.URI(key))
}

func TestHeadMissing(t *testing.T) {
	store, err := NewMemStore("")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Head(context.Background(), "nope.pdf")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestUploadMissingSource(t *testing.T) {
	store, err := NewMemStore("")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Upload(context.Background(), "x.pdf", filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)
	exists, _ := store.Exists(context.Background(), "x.pdf")
	assert.False(t, exists)
}

func TestLocalStoreWritesUnderBaseDir(t *testing.T) {
	base := t.TempDir()
	store, err := NewReportStore(StorageConfig{Backend: "local", LocalDir: base, Prefix: "reports"})
	require.NoError(t, err)
	defer store.Close()

	src := writeFile(t, t.TempDir(), "a.pdf", "data")
	_, err = store.Upload(context.Background(), store.Key("2024/a.pdf"), src)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, "reports", "2024", "a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestUnknownBackend(t *testing.T) {
	_, err := NewReportStore(StorageConfig{Backend: "ftp"})
	assert.Error(t, err)

	_, err = NewReportStore(StorageConfig{Backend: "s3"})
	assert.Error(t, err, "bucket is required")
}

func TestManifestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "manifest.json")

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())

	m.Mark("b.pdf", UploadEntry{Bucket: "bk", Key: "p/b.pdf", Size: 2})
	m.Mark("a.pdf", UploadEntry{Bucket: "bk", Key: "p/a.pdf", Size: 1})
	require.NoError(t, m.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"uploaded": {`)

	again, err := LoadManifest(path)
	require.NoError(t, err)
	assert.True(t, again.Has("a.pdf"))
	assert.False(t, again.Has("c.pdf"))
	assert.Equal(t, 2, again.Len())
	assert.Equal(t, "p/b.pdf", again.Uploaded["b.pdf"].Key)
}

func TestManifestCorrupt(t *testing.T) {
	path := writeFile(t, t.TempDir(), "manifest.json", "{not json")
	_, err := LoadManifest(path)
	assert.Error(t, err)
}
