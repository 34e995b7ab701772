// Package index implements the shared idempotency index: a monotonic set of
// candidate keys persisted as {"hashes": [...]} in the shared directory.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/withObsrvr/pda-report-collector/internal/lock"
	"github.com/withObsrvr/pda-report-collector/internal/metrics"
)

const (
	// FileName is the index document inside the shared directory.
	FileName = "processed_index.json"
	// LockName is the index lock marker inside the shared directory.
	LockName = "index.lock"
)

// Set is an in-memory key set.
type Set map[string]struct{}

// Has reports membership.
func (s Set) Has(k string) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the keys in ascending order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// document is the on-disk format.
type document struct {
	Hashes []string `json:"hashes"`
}

// Store reads and mutates the index file. Every read-modify-write runs inside
// the index lock.
type Store struct {
	path   string
	locker *lock.Locker
	worker string
	logger *slog.Logger

	saves atomic.Int64
}

// Config configures a Store.
type Config struct {
	SharedDir string
	Worker    string // label for metrics
	Lock      lock.Options
}

// NewStore creates a Store for <SharedDir>/processed_index.json guarded by
// <SharedDir>/index.lock.
func NewStore(cfg Config) *Store {
	logger := slog.With("component", "index")
	opts := cfg.Lock
	if opts.Logger == nil {
		opts.Logger = slog.With("component", "lock")
	}
	return &Store{
		path:   filepath.Join(cfg.SharedDir, FileName),
		locker: lock.New(filepath.Join(cfg.SharedDir, LockName), opts),
		worker: cfg.Worker,
		logger: logger,
	}
}

// Path returns the index document path.
func (s *Store) Path() string { return s.path }

// Locker returns the lock guarding the index.
func (s *Store) Locker() *lock.Locker { return s.locker }

// Load reads the persisted set. It never fails: a missing, unreadable or
// malformed document yields an empty set. Both the current format and the
// legacy bare JSON list are accepted.
func (s *Store) Load() Set {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("index unreadable, treating as empty", "path", s.path, "error", err)
		}
		return Set{}
	}

	keys, err := decode(data)
	if err != nil {
		s.logger.Warn("index malformed, treating as empty", "path", s.path, "error", err)
		return Set{}
	}

	set := make(Set, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func decode(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var legacy []string
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, fmt.Errorf("parse legacy index: %w", err)
		}
		return legacy, nil
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return doc.Hashes, nil
}

// Save writes the full set, sorted, to a temp file in the shared directory and
// renames it over the index so readers never see a partial document.
func (s *Store) Save(set Set) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(document{Hashes: set.Sorted()}); err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}

	// A unique temp name: an unlocked (timed-out) writer must not share it.
	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write index temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("sync index temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close index temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		s.logger.Debug("chmod index temp file failed", "error", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename index file: %w", err)
	}

	s.saves.Add(1)
	if m := metrics.Get(); m != nil {
		m.IncIndexWrites(metrics.Labels{Worker: s.worker}, float64(len(set)))
	}
	return nil
}

// ContainsAny reports, under the lock, whether any key is in the index. An
// empty key list never matches. The only error is context cancellation.
func (s *Store) ContainsAny(ctx context.Context, keys []string) (bool, error) {
	if len(nonEmpty(keys)) == 0 {
		return false, nil
	}

	var found bool
	err := lock.With(ctx, s.locker, func() error {
		set := s.Load()
		for _, k := range keys {
			if k != "" && set.Has(k) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// MarkAll adds keys to the index under the lock and saves only when the set
// grew. It returns the number of keys added.
func (s *Store) MarkAll(ctx context.Context, keys []string) (int, error) {
	keys = nonEmpty(keys)
	if len(keys) == 0 {
		return 0, nil
	}

	added := 0
	err := lock.With(ctx, s.locker, func() error {
		set := s.Load()
		for _, k := range keys {
			if !set.Has(k) {
				set[k] = struct{}{}
				added++
			}
		}
		if added == 0 {
			return nil
		}
		return s.Save(set)
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		s.logger.Debug("index updated", "added", added)
	}
	return added, nil
}

// Snapshot returns the sorted keys without taking the lock. Advisory only.
func (s *Store) Snapshot() []string {
	return s.Load().Sorted()
}

func nonEmpty(keys []string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
