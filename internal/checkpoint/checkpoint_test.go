package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileManagerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(Config{Enabled: true, Dir: dir, Worker: "host-a"})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	cp := &Checkpoint{RunID: "r1", Page: 3, Rows: 42, States: map[string]int{"done": 40, "failed": 2}}
	require.NoError(t, m.Save(ctx, cp))

	got, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "host-a", got.Worker)
	assert.Equal(t, 3, got.Page)
	assert.Equal(t, 42, got.Rows)
	assert.Equal(t, 2, got.States["failed"])
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = os.Stat(Path(dir, "host-a") + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestListSortsWorkersAndSkipsJunk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	for _, w := range []string{"zeta", "alpha"} {
		m, err := NewManager(Config{Enabled: true, Dir: dir, Worker: w})
		require.NoError(t, err)
		require.NoError(t, m.Save(ctx, &Checkpoint{RunID: w}))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run_state_broken.json"), []byte("{"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644))

	all, err := List(dir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Worker)
	assert.Equal(t, "zeta", all[1].Worker)
}

func TestListMissingDir(t *testing.T) {
	all, err := List(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPathSanitizesWorker(t *testing.T) {
	assert.Equal(t, filepath.Join("d", "run_state_a_b.json"), Path("d", "a/b"))
}

func TestDisabledManager(t *testing.T) {
	m, err := NewManager(Config{})
	require.NoError(t, err)
	assert.NoError(t, m.Save(context.Background(), &Checkpoint{}))
	_, err = m.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}
