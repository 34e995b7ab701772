// Package publisher uploads filed reports from the shared directory to object
// storage. A manifest of completed uploads lets an interrupted publish resume
// without re-sending files.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/pda-report-collector/internal/metrics"
	"github.com/withObsrvr/pda-report-collector/internal/storage"
)

const defaultSaveEvery = 25

// Config controls a publish run.
type Config struct {
	Dir          string // directory to publish, walked recursively
	Pattern      string // glob on the file name, or on the relative path when it contains a slash
	ManifestPath string
	MaxWorkers   int
	DryRun       bool
	SkipIfExists bool // skip objects already stored under the prefix
	SaveEvery    int  // manifest checkpoint interval in completed files
}

// Summary counts the outcome of a publish run.
type Summary struct {
	Total    int
	Uploaded int
	Skipped  int
	Failed   int
	Bytes    int64
	Duration time.Duration
}

// Remaining is the number of files neither published nor skipped.
func (s Summary) Remaining() int {
	n := s.Total - s.Uploaded - s.Skipped - s.Failed
	if n < 0 {
		return 0
	}
	return n
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeDryRun
	outcomeSkippedManifest
	outcomeSkippedExists
)

// Publisher uploads files to a ReportStore.
type Publisher struct {
	cfg    Config
	store  storage.ReportStore
	logger *slog.Logger
}

// New creates a publisher.
func New(cfg Config, store storage.ReportStore) *Publisher {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.SaveEvery < 1 {
		cfg.SaveEvery = defaultSaveEvery
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	return &Publisher{
		cfg:    cfg,
		store:  store,
		logger: slog.With("component", "publisher"),
	}
}

// Files lists the files under the configured directory matching the pattern,
// as sorted slash-separated relative paths.
func (p *Publisher) Files() ([]string, error) {
	return ListFiles(p.cfg.Dir, p.cfg.Pattern)
}

// Run publishes every matching file. Per-file failures are counted and
// logged; the returned error is reserved for setup failures and cancellation.
func (p *Publisher) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var sum Summary

	files, err := p.Files()
	if err != nil {
		return sum, err
	}
	sum.Total = len(files)

	manifest, err := storage.LoadManifest(p.cfg.ManifestPath)
	if err != nil {
		return sum, err
	}

	p.logger.Info("publishing",
		"files", len(files),
		"pattern", p.cfg.Pattern,
		"dir", p.cfg.Dir,
		"bucket", p.store.Bucket(),
		"dry_run", p.cfg.DryRun,
	)

	var (
		mu        sync.Mutex
		completed int
	)
	record := func(rel string, o outcome, size int64, err error) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case err != nil:
			sum.Failed++
			p.logger.Warn("upload failed", "file", rel, "error", err)
		case o == outcomeSkippedManifest || o == outcomeSkippedExists:
			sum.Skipped++
		default:
			sum.Uploaded++
			sum.Bytes += size
		}

		completed++
		if completed%p.cfg.SaveEvery == 0 && !p.cfg.DryRun {
			if err := manifest.Save(p.cfg.ManifestPath); err != nil {
				p.logger.Warn("manifest checkpoint failed", "error", err)
			}
		}
	}

	stored := p.storedKeys(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxWorkers)

	for _, rel := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			o, size, err := p.publishOne(gctx, manifest, stored, rel)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			record(rel, o, size, err)
			return nil
		})
	}

	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	if !p.cfg.DryRun {
		if err := manifest.Save(p.cfg.ManifestPath); err != nil {
			p.logger.Error("manifest save failed", "error", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	sum.Duration = time.Since(start)
	p.logger.Info("publish finished",
		"total", sum.Total,
		"uploaded", sum.Uploaded,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"remaining", sum.Remaining(),
		"duration", sum.Duration.Round(time.Millisecond),
	)
	return sum, runErr
}

// storedKeys lists the destination once so SkipIfExists does not need a HEAD
// per file. It returns nil when skipping is off or the listing fails, in which
// case publishOne checks each key individually.
func (p *Publisher) storedKeys(ctx context.Context) map[string]struct{} {
	if !p.cfg.SkipIfExists {
		return nil
	}
	keys, err := p.store.List(ctx, p.store.Key(""))
	if err != nil {
		p.countStorageError(metrics.Labels{Backend: p.store.Bucket()})
		p.logger.Warn("could not list destination, checking objects one by one", "error", err)
		return nil
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	p.logger.Debug("listed destination", "objects", len(out))
	return out
}

func (p *Publisher) publishOne(ctx context.Context, manifest *storage.Manifest, stored map[string]struct{}, rel string) (outcome, int64, error) {
	if manifest.Has(rel) {
		return outcomeSkippedManifest, 0, nil
	}

	local := filepath.Join(p.cfg.Dir, filepath.FromSlash(rel))
	info, err := os.Stat(local)
	if err != nil {
		return 0, 0, fmt.Errorf("stat %s: %w", rel, err)
	}
	key := p.store.Key(rel)
	labels := metrics.Labels{Backend: p.store.Bucket()}

	if p.cfg.SkipIfExists {
		exists, err := p.alreadyStored(ctx, stored, key)
		if err != nil {
			p.countStorageError(labels)
			return 0, 0, fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			manifest.Mark(rel, storage.UploadEntry{Bucket: p.store.Bucket(), Key: key, Size: info.Size()})
			p.countUpload(labels, "exists", 0)
			return outcomeSkippedExists, 0, nil
		}
	}

	if p.cfg.DryRun {
		p.logger.Info("dry run", "file", rel, "target", p.store.URI(key))
		return outcomeDryRun, info.Size(), nil
	}

	obj, err := p.store.Upload(ctx, key, local)
	if err != nil {
		p.countStorageError(labels)
		p.countUpload(labels, "failed", 0)
		return 0, 0, err
	}
	manifest.Mark(rel, storage.UploadEntry{Bucket: p.store.Bucket(), Key: key, Size: obj.Size})
	p.countUpload(labels, "uploaded", obj.Size)
	p.logger.Debug("uploaded", "file", rel, "target", p.store.URI(key), "bytes", obj.Size)
	return outcomeUploaded, obj.Size, nil
}

func (p *Publisher) alreadyStored(ctx context.Context, stored map[string]struct{}, key string) (bool, error) {
	if stored != nil {
		_, ok := stored[key]
		return ok, nil
	}
	return p.store.Exists(ctx, key)
}

func (p *Publisher) countUpload(l metrics.Labels, result string, bytes int64) {
	if m := metrics.Get(); m != nil {
		l.Outcome = result
		m.IncUploads(l, float64(bytes))
	}
}

func (p *Publisher) countStorageError(l metrics.Labels) {
	if m := metrics.Get(); m != nil {
		m.IncStorageErrors(l)
	}
}

// ListFiles walks dir and returns the regular files matching pattern as
// sorted slash-separated relative paths. A pattern without a slash matches
// the file name at any depth; a leading "**/" is treated the same way.
func ListFiles(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("publish directory %s: %w", dir, err)
	}
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "**/")
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	byName := !strings.Contains(pattern, "/")

	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		subject := rel
		if byName {
			subject = d.Name()
		}
		if ok, _ := path.Match(pattern, subject); ok {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
