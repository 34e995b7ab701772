package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/withObsrvr/pda-report-collector/internal/artifact"
	"github.com/withObsrvr/pda-report-collector/internal/audit"
	"github.com/withObsrvr/pda-report-collector/internal/catalog"
	"github.com/withObsrvr/pda-report-collector/internal/download"
	"github.com/withObsrvr/pda-report-collector/internal/extract"
	"github.com/withObsrvr/pda-report-collector/internal/identity"
	"github.com/withObsrvr/pda-report-collector/internal/index"
	"github.com/withObsrvr/pda-report-collector/internal/logging"
	"github.com/withObsrvr/pda-report-collector/internal/metrics"
	"github.com/withObsrvr/pda-report-collector/internal/portal"
	"github.com/withObsrvr/pda-report-collector/internal/reconcile"
)

const (
	defaultExtractAttempts = 3
	defaultExtractBackoff  = 200 * time.Millisecond
	defaultDownloadTimeout = 180 * time.Second
)

// Deps are the collaborators a Processor drives. Catalog, Audit and Claims
// are optional.
type Deps struct {
	Portal    portal.Portal
	Extractor *extract.Extractor
	Index     *index.Store
	Scanner   *reconcile.Scanner
	Watcher   *download.Watcher
	Catalog   catalog.Writer
	Audit     audit.Emitter
	Claims    Claimer
}

// ProcessorConfig holds the row-level settings.
type ProcessorConfig struct {
	Worker          string
	SharedDir       string
	DownloadTimeout time.Duration
	ExtractAttempts int
	ExtractBackoff  time.Duration
}

// Processor runs the per-row state machine.
type Processor struct {
	cfg  ProcessorConfig
	deps Deps

	validate func(path string) (int, error)
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig, deps Deps) *Processor {
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaultDownloadTimeout
	}
	if cfg.ExtractAttempts <= 0 {
		cfg.ExtractAttempts = defaultExtractAttempts
	}
	if cfg.ExtractBackoff <= 0 {
		cfg.ExtractBackoff = defaultExtractBackoff
	}
	return &Processor{
		cfg:      cfg,
		deps:     deps,
		validate: download.Validate,
	}
}

// ProcessRow takes row idx of the current page through the state machine.
// It never aborts the run: every failure ends in the Failed state with
// Result.Err set.
func (p *Processor) ProcessRow(ctx context.Context, run *Run, idx int) (res Result) {
	start := time.Now()
	res = Result{Row: idx, Page: run.Page}
	res.enter(Unchecked)
	log := logging.RowLogger(run.Logger, run.Page, idx)

	defer func() {
		res.Duration = time.Since(start)
		if m := metrics.Get(); m != nil {
			m.IncRowsProcessed(metrics.Labels{Worker: p.cfg.Worker, State: res.Via().String()}, res.Duration.Seconds())
		}
	}()

	rec, err := p.extract(ctx, idx)
	if err != nil {
		return p.fail(log, res, "could not read row", err)
	}
	keys := identity.CandidateKeys(rec)
	res.Keys = keys
	log = log.With("person", rec.String())

	// Index or per-run cache first; a hit is still checked against the disk.
	hit := run.SeenAny(keys)
	if !hit {
		hit, err = p.deps.Index.ContainsAny(ctx, keys)
		if err != nil {
			return p.fail(log, res, "index lookup interrupted", err)
		}
	}

	path, renamed, err := p.deps.Scanner.Ensure(rec)
	if err != nil {
		// A candidate exists but could not be normalized; generating again
		// would create a duplicate.
		return p.fail(log, res, "could not normalize existing report", err)
	}
	if path != "" {
		return p.settle(ctx, run, log, rec, keys, res, hit, path, renamed)
	}

	if hit {
		log.Warn("indexed but no report file found, generating again")
	}

	res.enter(NeedsAcquisition)
	if p.deps.Claims != nil {
		release, err := p.deps.Claims.Take(keys)
		if err != nil {
			if errors.Is(err, ErrClaimed) {
				log.Info("another worker is generating this report, skipping")
			}
			return p.fail(log, res, "identity claim", err)
		}
		defer release()

		// Another worker may have finished this person between the checks
		// above and taking the claim.
		if !hit {
			if hit, err = p.deps.Index.ContainsAny(ctx, keys); err != nil {
				return p.fail(log, res, "index lookup interrupted", err)
			}
		}
		path, renamed, err := p.deps.Scanner.Ensure(rec)
		if err != nil {
			return p.fail(log, res, "could not normalize existing report", err)
		}
		if path != "" {
			log.Info("report filed by another worker while claiming")
			return p.settle(ctx, run, log, rec, keys, res, hit, path, renamed)
		}
	}

	dest, pages, err := p.acquire(ctx, log, idx, rec)
	if err != nil {
		return p.fail(log, res, "acquisition failed", err)
	}
	res.enter(Acquired)
	res.File, res.Pages = dest, pages
	if err := p.file(ctx, run, log, rec, keys, &res); err != nil {
		return p.fail(log, res, "could not record report in index", err)
	}
	log.Info("report acquired", "file", filepath.Base(dest), "pages", pages)
	res.enter(Done)
	return res
}

// settle files a report found on disk: indexed and verified when the index
// already knew it, otherwise reconciled from the existing file.
func (p *Processor) settle(ctx context.Context, run *Run, log *slog.Logger, rec identity.Record, keys []string, res Result, hit bool, path string, renamed bool) Result {
	via := FileExistsUnindexed
	if hit {
		via = IndexedAndVerified
	}
	res.enter(via)
	res.File, res.Renamed = path, renamed
	if err := p.file(ctx, run, log, rec, keys, &res); err != nil {
		return p.fail(log, res, "could not record report in index", err)
	}
	if renamed {
		log.Info("existing report renamed", "state", via.String(), "file", filepath.Base(path))
	} else {
		log.Info("report already filed", "state", via.String(), "file", filepath.Base(path))
	}
	res.enter(Done)
	return res
}

// extract reads the row's identity, re-locating the row when it re-renders.
func (p *Processor) extract(ctx context.Context, idx int) (identity.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.ExtractAttempts; attempt++ {
		html, err := p.deps.Portal.RowHTML(ctx, idx)
		if err == nil {
			return p.deps.Extractor.Record(html)
		}
		lastErr = err
		if !errors.Is(err, portal.ErrStaleElement) {
			return identity.Record{}, err
		}
		if m := metrics.Get(); m != nil {
			m.IncRetryAttempts(metrics.Labels{Worker: p.cfg.Worker, Operation: "extract"})
		}
		if attempt < p.cfg.ExtractAttempts {
			select {
			case <-ctx.Done():
				return identity.Record{}, ctx.Err()
			case <-time.After(p.cfg.ExtractBackoff):
			}
		}
	}
	return identity.Record{}, fmt.Errorf("row %d after %d attempts: %w", idx, p.cfg.ExtractAttempts, lastErr)
}

// acquire generates the report, waits for the download, validates it and
// moves it into the shared directory under its canonical name.
func (p *Processor) acquire(ctx context.Context, log *slog.Logger, idx int, rec identity.Record) (string, int, error) {
	before, err := p.deps.Watcher.Snapshot()
	if err != nil {
		return "", 0, fmt.Errorf("snapshot staging directory: %w", err)
	}

	start := time.Now()
	if err := p.deps.Portal.Generate(ctx, idx); err != nil {
		return "", 0, fmt.Errorf("generate: %w", err)
	}
	log.Debug("generate requested, waiting for download")

	staged, err := p.deps.Watcher.Wait(ctx, before, p.cfg.DownloadTimeout)
	if err != nil {
		return "", 0, fmt.Errorf("wait for download: %w", err)
	}

	pages, err := p.validate(staged)
	if err != nil {
		return "", 0, fmt.Errorf("downloaded %s: %w", filepath.Base(staged), err)
	}
	if m := metrics.Get(); m != nil {
		var size float64
		if info, err := os.Stat(staged); err == nil {
			size = float64(info.Size())
		}
		m.ObserveDownload(metrics.Labels{Worker: p.cfg.Worker}, time.Since(start).Seconds(), size)
	}

	dest, err := artifact.MoveUnique(staged, p.cfg.SharedDir, artifact.FileName(rec))
	if err != nil {
		return "", 0, fmt.Errorf("move %s to shared directory: %w", filepath.Base(staged), err)
	}
	return dest, pages, nil
}

// file marks the keys in the index and the run cache, then records the report
// in the optional catalog and audit trail. Only the index write can fail the
// row.
func (p *Processor) file(ctx context.Context, run *Run, log *slog.Logger, rec identity.Record, keys []string, res *Result) error {
	if _, err := p.deps.Index.MarkAll(ctx, keys); err != nil {
		return err
	}
	run.Remember(keys)

	state := res.Final().String()
	name := filepath.Base(res.File)

	if p.deps.Catalog != nil {
		if entry, ok := catalog.NewEntry(rec, name, state, p.cfg.Worker, run.ID); ok {
			entry.Pages = res.Pages
			if err := p.deps.Catalog.RecordReport(ctx, entry); err != nil {
				log.Warn("catalog write failed", "error", err)
				if m := metrics.Get(); m != nil {
					m.IncCatalogErrors(metrics.Labels{Worker: p.cfg.Worker})
				}
			}
		}
	}

	if p.deps.Audit != nil {
		err := p.deps.Audit.EmitReport(ctx, audit.Report{
			Worker:        p.cfg.Worker,
			RunID:         run.ID,
			State:         state,
			Path:          res.File,
			FileName:      name,
			Renamed:       res.Renamed,
			Pages:         res.Pages,
			CandidateKeys: keys,
		})
		if err != nil {
			log.Warn("audit emit failed", "error", err)
			if m := metrics.Get(); m != nil {
				m.IncAuditErrors(metrics.Labels{Worker: p.cfg.Worker})
			}
		}
	}
	return nil
}

func (p *Processor) fail(log *slog.Logger, res Result, msg string, err error) Result {
	res.Err = err
	res.enter(Failed)
	if errors.Is(err, ErrClaimed) {
		return res
	}
	log.Error(msg, "error", err)
	return res
}
