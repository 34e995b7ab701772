package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/pda-report-collector/internal/audit"
	"github.com/withObsrvr/pda-report-collector/internal/catalog"
	"github.com/withObsrvr/pda-report-collector/internal/checkpoint"
	"github.com/withObsrvr/pda-report-collector/internal/collector"
	"github.com/withObsrvr/pda-report-collector/internal/download"
	"github.com/withObsrvr/pda-report-collector/internal/extract"
	"github.com/withObsrvr/pda-report-collector/internal/index"
	"github.com/withObsrvr/pda-report-collector/internal/lock"
	"github.com/withObsrvr/pda-report-collector/internal/logging"
	"github.com/withObsrvr/pda-report-collector/internal/metrics"
	"github.com/withObsrvr/pda-report-collector/internal/portal"
	"github.com/withObsrvr/pda-report-collector/internal/reconcile"
	"github.com/withObsrvr/pda-report-collector/internal/util"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Walk the people list and file one report per person",
	Long: `Attaches to Chrome at DEBUG_ADDR, opens the people list and processes every
row: rows whose report is already indexed and present are skipped, reports found
on disk under another name are renamed and indexed, and only the rest are
generated and downloaded.`,
	RunE: runCollect,
}

var collectFlags struct {
	listURL     string
	downloadDir string
	sharedDir   string
	debugAddr   string
	maxRows     int
	wait        float64
	pageSize    int
	resume      bool
}

func init() {
	f := collectCmd.Flags()
	f.StringVar(&collectFlags.listURL, "list-url", "", "People list URL (overrides LIST_URL)")
	f.StringVar(&collectFlags.downloadDir, "download-dir", "", "Browser download staging directory (overrides DOWNLOAD_DIR)")
	f.StringVar(&collectFlags.sharedDir, "shared-dir", "", "Shared report directory (overrides SHARED_DIR)")
	f.StringVar(&collectFlags.debugAddr, "debug-addr", "", "Chrome DevTools address (overrides DEBUG_ADDR)")
	f.IntVar(&collectFlags.maxRows, "max-rows", 0, "Stop after this many rows, 0 for all (overrides MAX_ROWS)")
	f.Float64Var(&collectFlags.wait, "wait", 0, "Element wait in seconds (overrides WAIT)")
	f.IntVar(&collectFlags.pageSize, "page-size", 0, "Preferred rows per page (overrides PREFERRED_PAGE_SIZE)")
	f.BoolVar(&collectFlags.resume, "resume", false, "Continue from the page an interrupted run stopped on")
	rootCmd.AddCommand(collectCmd)
}

func applyCollectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("list-url") {
		cfg.Portal.ListURL = collectFlags.listURL
	}
	if f.Changed("download-dir") {
		// A shared dir derived from the old download dir follows it.
		if cfg.Paths.SharedDir == cfg.Paths.DownloadDir {
			cfg.Paths.SharedDir = collectFlags.downloadDir
		}
		cfg.Paths.DownloadDir = collectFlags.downloadDir
	}
	if f.Changed("shared-dir") {
		cfg.Paths.SharedDir = collectFlags.sharedDir
	}
	if f.Changed("debug-addr") {
		cfg.Portal.DebugAddr = collectFlags.debugAddr
	}
	if f.Changed("max-rows") {
		cfg.Run.MaxRows = collectFlags.maxRows
	}
	if f.Changed("wait") {
		cfg.Portal.Wait = seconds(collectFlags.wait)
	}
	if f.Changed("page-size") {
		cfg.Portal.PreferredPageSize = collectFlags.pageSize
	}
	if f.Changed("resume") {
		cfg.Run.Resume = collectFlags.resume
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	applyCollectFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return err
	}
	banner()
	startMetrics()

	downloadDir, err := filepath.Abs(cfg.Paths.DownloadDir)
	if err != nil {
		return fmt.Errorf("resolve download dir: %w", err)
	}
	sharedDir, err := filepath.Abs(cfg.Paths.SharedDir)
	if err != nil {
		return fmt.Errorf("resolve shared dir: %w", err)
	}
	for _, dir := range []string{downloadDir, sharedDir, cfg.Paths.StateDir} {
		if err := util.EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	log := logging.Component("main").With("worker", cfg.Worker)
	log.Info("starting collection",
		"list_url", cfg.Portal.ListURL,
		"download_dir", downloadDir,
		"shared_dir", sharedDir,
		"max_rows", cfg.Run.MaxRows,
	)

	cat, err := catalog.NewWriter(catalog.Config{PostgresDSN: cfg.Catalog.PostgresDSN})
	if err != nil {
		// The catalog is optional; the index and the shared directory decide.
		log.Warn("catalog unavailable, continuing without it", "error", err)
		cat = nil
	} else {
		defer cat.Close()
	}

	emitter := audit.NewEmitter(audit.Config{
		Enabled:  cfg.Audit.Enabled,
		Endpoint: cfg.Audit.Endpoint,
		Dir:      filepath.Join(cfg.Paths.StateDir, "audit"),
		Producer: audit.ProducerInfo{Name: "pda-collector", Version: collector.Version},
	})
	defer emitter.Close()

	cp, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: true,
		Dir:     cfg.Paths.StateDir,
		Worker:  cfg.Worker,
	})
	if err != nil {
		log.Warn("checkpoints disabled", "error", err)
		cp = nil
	}

	var claims collector.Claimer
	if cfg.Run.ClaimIdentity {
		c, err := collector.NewClaims(sharedDir, cfg.Lock.StaleAfter)
		if err != nil {
			return err
		}
		claims = c
	}

	p := portal.NewChrome(portal.ChromeConfig{
		DebugAddr:   cfg.Portal.DebugAddr,
		ListURL:     cfg.Portal.ListURL,
		DownloadDir: downloadDir,
		Wait:        cfg.Portal.Wait,
		ClickGap:    cfg.Portal.ClickGap,
		Selectors:   cfg.Portal.Selectors,
	})

	proc := collector.NewProcessor(collector.ProcessorConfig{
		Worker:          cfg.Worker,
		SharedDir:       sharedDir,
		DownloadTimeout: cfg.Run.DownloadTimeout,
	}, collector.Deps{
		Portal:    p,
		Extractor: extract.New(cfg.Extract),
		Index:     newIndex(sharedDir),
		Scanner:   reconcile.NewScanner(sharedDir, cfg.Worker),
		Watcher:   download.NewWatcher(downloadDir, download.Options{}),
		Catalog:   cat,
		Audit:     emitter,
		Claims:    claims,
	})

	c := collector.New(collector.Config{
		Worker:            cfg.Worker,
		ListURL:           cfg.Portal.ListURL,
		PreferredPageSize: cfg.Portal.PreferredPageSize,
		MaxRows:           cfg.Run.MaxRows,
		RowPause:          cfg.Run.RowPause,
		Resume:            cfg.Run.Resume,
	}, p, proc, cp)

	sum, err := c.Run(ctx)
	printSummary(sum)
	if err != nil {
		if errors.Is(err, collector.ErrNoRows) {
			return fmt.Errorf("%w: check that the list is open and the session is logged in", err)
		}
		return err
	}
	return nil
}

func newIndex(sharedDir string) *index.Store {
	return index.NewStore(index.Config{
		SharedDir: sharedDir,
		Worker:    cfg.Worker,
		Lock: lock.Options{
			Timeout:    cfg.Lock.Timeout,
			StaleAfter: cfg.Lock.StaleAfter,
		},
	})
}

func startMetrics() {
	if !cfg.Metrics.Enabled {
		return
	}
	metrics.Init("")
	go func() {
		slog.Info("metrics server listening", "address", cfg.Metrics.Address)
		if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
}

func printSummary(sum collector.Summary) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Printf("\n%s\n", cyan("=== Collection Summary ==="))
	fmt.Printf("  Run:        %s\n", sum.RunID)
	fmt.Printf("  Pages:      %d\n", sum.Pages)
	fmt.Printf("  Rows:       %d\n", sum.Rows)
	fmt.Printf("  Acquired:   %s\n", green(sum.Acquired))
	fmt.Printf("  Verified:   %d\n", sum.Verified)
	fmt.Printf("  Reconciled: %s\n", yellow(sum.Reconciled))
	fmt.Printf("  Renamed:    %d\n", sum.Renamed)
	if sum.Failed > 0 {
		fmt.Printf("  Failed:     %s\n", red(sum.Failed))
	} else {
		fmt.Printf("  Failed:     0\n")
	}
	if sum.Stopped != "" {
		fmt.Printf("  Stopped:    %s\n", sum.Stopped)
	}
	fmt.Println()
}
