// Package catalog records filed reports in an optional PostgreSQL catalog so
// operators can query who has been collected without listing the shared
// directory. The shared index remains the source of truth for deduplication.
package catalog

import (
	"context"
	"log"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/identity"
)

// Config holds catalog connection settings. An empty DSN disables the catalog.
type Config struct {
	PostgresDSN string
}

// Entry is one filed report.
type Entry struct {
	IdentityKey   string
	CandidateKeys []string
	Name          string
	Email         string
	Document      string
	Gender        string
	FileName      string
	State         string
	Worker        string
	RunID         string
	Pages         int
	FiledAt       time.Time
}

// NewEntry builds an entry for r. The identity key is the first candidate
// key, so the same person always maps to the same catalog row.
func NewEntry(r identity.Record, fileName, state, worker, runID string) (Entry, bool) {
	keys := identity.CandidateKeys(r)
	if len(keys) == 0 {
		return Entry{}, false
	}
	return Entry{
		IdentityKey:   keys[0],
		CandidateKeys: keys,
		Name:          r.Name,
		Email:         r.Email,
		Document:      r.Document,
		Gender:        r.Gender,
		FileName:      fileName,
		State:         state,
		Worker:        worker,
		RunID:         runID,
		FiledAt:       time.Now().UTC(),
	}, true
}

// Writer persists catalog entries.
type Writer interface {
	RecordReport(ctx context.Context, e Entry) error
	Lookup(ctx context.Context, keys []string) (Entry, bool, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		log.Println("[catalog] no DSN configured, using no-op writer")
		return noopWriter{}, nil
	}
	return NewPostgresWriter(cfg)
}

type noopWriter struct{}

func (noopWriter) RecordReport(_ context.Context, _ Entry) error { return nil }

func (noopWriter) Lookup(_ context.Context, _ []string) (Entry, bool, error) {
	return Entry{}, false, nil
}

func (noopWriter) Count(_ context.Context) (int64, error) { return 0, nil }

func (noopWriter) Close() error { return nil }
