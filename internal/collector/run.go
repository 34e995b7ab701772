package collector

import (
	"log/slog"

	"github.com/withObsrvr/pda-report-collector/internal/logging"
)

// Run is the per-run context: the correlation ID, the current page and the
// cache of candidate keys filed during this run. The cache lets a person who
// appears on several rows be skipped without touching the shared index.
type Run struct {
	ID     string
	Page   int
	Seen   map[string]struct{}
	Logger *slog.Logger
}

// NewRun starts a run for worker with a fresh correlation ID.
func NewRun(worker string) *Run {
	id := logging.GenerateCorrelationID()
	return &Run{
		ID:     id,
		Page:   1,
		Seen:   make(map[string]struct{}),
		Logger: logging.RunLogger(id, worker),
	}
}

// SeenAny reports whether any key was filed earlier in this run.
func (r *Run) SeenAny(keys []string) bool {
	for _, k := range keys {
		if _, ok := r.Seen[k]; ok {
			return true
		}
	}
	return false
}

// Remember caches keys as filed.
func (r *Run) Remember(keys []string) {
	for _, k := range keys {
		if k != "" {
			r.Seen[k] = struct{}{}
		}
	}
}
