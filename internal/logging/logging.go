// Package logging sets up the process-wide slog logger and the run, row and
// component loggers derived from it.
package logging

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config selects the handler. Empty fields mean text at info level on stdout.
type Config struct {
	Format string    // "json" | "text"
	Level  string    // "debug" | "info" | "warn" | "error"
	Output io.Writer // defaults to os.Stdout
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Setup installs the default logger. The standard library logger used by the
// audit and catalog packages is pointed at the same output so both streams
// interleave in order.
func Setup(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	log.SetOutput(out)
	return logger
}

func parseLevel(s string) slog.Level {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return slog.LevelInfo
}

type correlationKey struct{}

// WithCorrelationID tags ctx with the run's correlation ID. Outbound requests
// (audit POSTs) forward it as a header.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the ID stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// GenerateCorrelationID returns a fresh 16 hex character ID.
func GenerateCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// RunLogger tags every line of one run.
func RunLogger(correlationID, worker string) *slog.Logger {
	return slog.With("correlation_id", correlationID, "worker", worker)
}

// RowLogger adds the page and 1-based row position to a run logger.
func RowLogger(run *slog.Logger, page, row int) *slog.Logger {
	return run.With("page", page, "row", row)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
