package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	assert.Len(t, id, 16)
	assert.NotEqual(t, id, GenerateCorrelationID())

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, CorrelationID(ctx))
	assert.Empty(t, CorrelationID(context.Background()))
}

func TestRowLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	RowLogger(RunLogger("abc", "host-a"), 2, 7).Info("row done")

	out := buf.String()
	assert.Contains(t, out, "correlation_id=abc")
	assert.Contains(t, out, "worker=host-a")
	assert.Contains(t, out, "page=2")
	assert.Contains(t, out, "row=7")
}

func TestSetupJSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)
	defer log.SetOutput(os.Stderr)

	var buf bytes.Buffer
	logger := Setup(Config{Format: "JSON", Level: "warn", Output: &buf})
	logger.Info("hidden")
	Component("index").Warn("lock stale", "age", "11m")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"lock stale"`)
	assert.Contains(t, out, `"component":"index"`)

	log.Printf("[audit] written")
	assert.Contains(t, buf.String(), "[audit] written")
}
