// Package collector walks the portal list and drives every row through the
// deduplication state machine: index check, filesystem reconciliation and,
// only when both miss, report generation.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/withObsrvr/pda-report-collector/internal/checkpoint"
	"github.com/withObsrvr/pda-report-collector/internal/logging"
	"github.com/withObsrvr/pda-report-collector/internal/metrics"
	"github.com/withObsrvr/pda-report-collector/internal/portal"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ErrNoRows is returned when the list renders no rows at all.
var ErrNoRows = errors.New("no rows found in list")

const defaultPageSize = 200

// Config holds the run-level settings.
type Config struct {
	Worker            string
	ListURL           string
	PreferredPageSize int
	MaxRows           int           // 0 means no limit
	RowPause          time.Duration // minimum spacing between rows
	Resume            bool          // skip pages already finished by an interrupted run
}

// Collector runs one pass over the list.
type Collector struct {
	cfg        Config
	portal     portal.Portal
	proc       *Processor
	checkpoint checkpoint.Manager
	log        *slog.Logger
}

// New creates a Collector. cp may be nil.
func New(cfg Config, p portal.Portal, proc *Processor, cp checkpoint.Manager) *Collector {
	if cfg.PreferredPageSize <= 0 {
		cfg.PreferredPageSize = defaultPageSize
	}
	if cp == nil {
		cp, _ = checkpoint.NewManager(checkpoint.Config{})
	}
	return &Collector{
		cfg:        cfg,
		portal:     p,
		proc:       proc,
		checkpoint: cp,
		log:        logging.Component("collector"),
	}
}

// Run opens the list and processes every row of every page until the list is
// exhausted, MaxRows is reached or ctx is cancelled. Row failures are counted
// in the summary and never abort the run.
func (c *Collector) Run(ctx context.Context) (sum Summary, err error) {
	run := NewRun(c.cfg.Worker)
	sum.RunID = run.ID
	ctx = logging.WithCorrelationID(ctx, run.ID)
	started := time.Now()

	cp := &checkpoint.Checkpoint{
		RunID:     run.ID,
		ListURL:   c.cfg.ListURL,
		StartedAt: started,
	}

	defer func() {
		if cerr := c.portal.Close(); cerr != nil {
			c.log.Warn("close portal", "error", cerr)
		}
		cp.Page = run.Page
		cp.Rows = sum.Rows
		cp.States = sum.States()
		cp.Finished = err == nil && sum.Stopped != "cancelled"
		if err != nil {
			cp.Error = err.Error()
		}
		// The run context may already be cancelled; the final checkpoint still
		// has to land.
		if serr := c.checkpoint.Save(context.WithoutCancel(ctx), cp); serr != nil {
			c.log.Warn("save final checkpoint", "error", serr)
		}
		run.Logger.Info("run complete",
			"pages", sum.Pages,
			"rows", sum.Rows,
			"verified", sum.Verified,
			"reconciled", sum.Reconciled,
			"acquired", sum.Acquired,
			"failed", sum.Failed,
			"renamed", sum.Renamed,
			"stopped", sum.Stopped,
			"duration", time.Since(started).String(),
		)
	}()

	skip := c.resumePage(ctx)

	run.Logger.Info("opening list", "url", c.cfg.ListURL)
	if err := c.portal.Open(ctx); err != nil {
		if errors.Is(err, portal.ErrNotFound) {
			return sum, ErrNoRows
		}
		return sum, fmt.Errorf("open list: %w", err)
	}
	if err := c.portal.SetPageSize(ctx, c.cfg.PreferredPageSize); err != nil {
		run.Logger.Warn("could not set page size, continuing with the default", "error", err)
	}

	for skip > 1 {
		more, err := c.portal.NextPage(ctx)
		if err != nil || !more {
			run.Logger.Warn("could not fast-forward to checkpoint page, continuing here", "page", run.Page, "error", err)
			break
		}
		run.Page++
		skip--
	}

	limiter := rate.NewLimiter(rate.Every(c.cfg.RowPause), 1)
	if c.cfg.RowPause <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	for {
		if c.cfg.MaxRows > 0 && sum.Rows >= c.cfg.MaxRows {
			sum.Stopped = "max rows"
			return sum, nil
		}
		if m := metrics.Get(); m != nil {
			m.SetCurrentPage(metrics.Labels{Worker: c.cfg.Worker}, float64(run.Page))
		}

		count, err := c.portal.RowCount(ctx)
		if err != nil {
			if ctx.Err() != nil {
				sum.Stopped = "cancelled"
				return sum, nil
			}
			return sum, fmt.Errorf("count rows on page %d: %w", run.Page, err)
		}
		if count == 0 {
			if sum.Rows == 0 {
				return sum, ErrNoRows
			}
			sum.Stopped = "empty page"
			return sum, nil
		}
		sum.Pages++
		run.Logger.Info("processing page", "page", run.Page, "rows", count)

		for idx := 1; idx <= count; idx++ {
			if c.cfg.MaxRows > 0 && sum.Rows >= c.cfg.MaxRows {
				sum.Stopped = "max rows"
				return sum, nil
			}
			if err := limiter.Wait(ctx); err != nil {
				sum.Stopped = "cancelled"
				return sum, nil
			}
			sum.Add(c.proc.ProcessRow(ctx, run, idx))
		}

		cp.Page = run.Page
		cp.Rows = sum.Rows
		cp.States = sum.States()
		if err := c.checkpoint.Save(ctx, cp); err != nil {
			run.Logger.Warn("save checkpoint", "error", err)
		}

		more, err := c.portal.NextPage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				sum.Stopped = "cancelled"
				return sum, nil
			}
			return sum, fmt.Errorf("next page after %d: %w", run.Page, err)
		}
		if !more {
			sum.Stopped = "last page"
			return sum, nil
		}
		run.Page++
	}
}

// resumePage returns the page an interrupted run stopped on, or 1.
func (c *Collector) resumePage(ctx context.Context) int {
	if !c.cfg.Resume {
		return 1
	}
	prev, err := c.checkpoint.Load(ctx)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			c.log.Warn("load checkpoint", "error", err)
		}
		return 1
	}
	if prev == nil || prev.Finished || prev.ListURL != c.cfg.ListURL || prev.Page <= 1 {
		return 1
	}
	c.log.Info("resuming from checkpoint", "page", prev.Page, "previous_run", prev.RunID)
	return prev.Page
}
