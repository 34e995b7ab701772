package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	cfg.finish()

	assert.Equal(t, 200, cfg.Portal.PreferredPageSize)
	assert.Equal(t, 15*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, 180*time.Second, cfg.Run.DownloadTimeout)
	assert.Equal(t, cfg.Paths.DownloadDir, cfg.Paths.SharedDir, "shared dir defaults to the download dir")
	assert.NotEmpty(t, cfg.Worker)
	assert.NotEmpty(t, cfg.Portal.Selectors.Rows)
	assert.NotEmpty(t, cfg.Extract.PersonCell)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"SHARED_DIR":       "/mnt/share",
		"MAX_ROWS":         "50",
		"WAIT":             "30",
		"ROW_PAUSE":        "500ms",
		"LOCK_STALE_AFTER": "-1s",
		"CLAIM_IDENTITY":   "yes",
		"S3_BUCKET":        "reports",
		"DRY_RUN":          "1",
		"RESUME":           "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/mnt/share", cfg.Paths.SharedDir)
	assert.Equal(t, 50, cfg.Run.MaxRows)
	assert.Equal(t, 30*time.Second, cfg.Portal.Wait)
	assert.Equal(t, 500*time.Millisecond, cfg.Run.RowPause)
	assert.Equal(t, -time.Second, cfg.Lock.StaleAfter)
	assert.True(t, cfg.Run.ClaimIdentity)
	assert.Equal(t, "reports", cfg.Storage.Bucket)
	assert.True(t, cfg.Publish.DryRun)
	assert.True(t, cfg.Run.Resume)
}

func TestApplyEnvCollectsErrors(t *testing.T) {
	cfg := Default()
	err := applyEnv(&cfg, envMap(map[string]string{
		"MAX_ROWS":         "many",
		"DOWNLOAD_TIMEOUT": "soon",
		"DRY_RUN":          "maybe",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_ROWS")
	assert.Contains(t, err.Error(), "DOWNLOAD_TIMEOUT")
	assert.Contains(t, err.Error(), "DRY_RUN")
	assert.Equal(t, 0, cfg.Run.MaxRows, "invalid values leave the previous setting")
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
worker: desk-7
paths:
  download_dir: /tmp/dl
  shared_dir: /srv/share
run:
  row_pause: 2s
  max_rows: 10
portal:
  selectors:
    next_page: "//button[@aria-label='Siguiente']"
`), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_ROWS", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "desk-7", cfg.Worker)
	assert.Equal(t, "/srv/share", cfg.Paths.SharedDir)
	assert.Equal(t, 2*time.Second, cfg.Run.RowPause)
	assert.Equal(t, 25, cfg.Run.MaxRows, "environment overrides the file")
	assert.Equal(t, "//button[@aria-label='Siguiente']", cfg.Portal.Selectors.NextPage)
	assert.NotEmpty(t, cfg.Portal.Selectors.Rows, "unset selectors keep their defaults")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Portal.ListURL = ""
	cfg.Run.MaxRows = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LIST_URL")
	assert.Contains(t, err.Error(), "MAX_ROWS")
}
