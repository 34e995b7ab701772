package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/pda-report-collector/internal/publisher"
	"github.com/withObsrvr/pda-report-collector/internal/storage"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload filed reports to object storage",
	Long: `Uploads files from the shared directory that match FILE_PATTERN to the
configured bucket under PREFIX/<relative path>. A JSON manifest records every
uploaded file so an interrupted publish resumes where it stopped.`,
	RunE: runPublish,
}

var publishFlags struct {
	dir          string
	pattern      string
	backend      string
	bucket       string
	prefix       string
	localDir     string
	manifest     string
	maxWorkers   int
	dryRun       bool
	skipIfExists bool
}

func init() {
	f := publishCmd.Flags()
	f.StringVar(&publishFlags.dir, "dir", "", "Directory to publish (default SHARED_DIR)")
	f.StringVar(&publishFlags.pattern, "pattern", "", "File pattern (overrides FILE_PATTERN)")
	f.StringVar(&publishFlags.backend, "backend", "", "Storage backend: s3, gcs, local (overrides STORAGE_BACKEND)")
	f.StringVar(&publishFlags.bucket, "bucket", "", "Destination bucket (overrides STORAGE_BUCKET)")
	f.StringVar(&publishFlags.prefix, "prefix", "", "Key prefix (overrides STORAGE_PREFIX)")
	f.StringVar(&publishFlags.localDir, "local-dir", "", "Destination directory for the local backend (overrides LOCAL_DIR)")
	f.StringVar(&publishFlags.manifest, "manifest", "", "Manifest path (overrides MANIFEST_PATH)")
	f.IntVar(&publishFlags.maxWorkers, "max-workers", 0, "Concurrent uploads (overrides MAX_WORKERS)")
	f.BoolVar(&publishFlags.dryRun, "dry-run", false, "List what would be uploaded")
	f.BoolVar(&publishFlags.skipIfExists, "skip-if-exists", false, "Skip objects that already exist in the bucket")
	rootCmd.AddCommand(publishCmd)
}

func applyPublishFlags(cmd *cobra.Command) string {
	f := cmd.Flags()
	str := func(name, val string, dst *string) {
		if f.Changed(name) {
			*dst = val
		}
	}
	str("pattern", publishFlags.pattern, &cfg.Publish.FilePattern)
	str("backend", publishFlags.backend, &cfg.Storage.Backend)
	str("bucket", publishFlags.bucket, &cfg.Storage.Bucket)
	str("prefix", publishFlags.prefix, &cfg.Storage.Prefix)
	str("local-dir", publishFlags.localDir, &cfg.Storage.LocalDir)
	str("manifest", publishFlags.manifest, &cfg.Publish.ManifestPath)
	if f.Changed("max-workers") {
		cfg.Publish.MaxWorkers = publishFlags.maxWorkers
	}
	if f.Changed("dry-run") {
		cfg.Publish.DryRun = publishFlags.dryRun
	}
	if f.Changed("skip-if-exists") {
		cfg.Publish.SkipIfExists = publishFlags.skipIfExists
	}

	if publishFlags.dir != "" {
		return publishFlags.dir
	}
	return cfg.Paths.SharedDir
}

func runPublish(cmd *cobra.Command, args []string) error {
	dir := applyPublishFlags(cmd)
	banner()
	startMetrics()

	store, err := storage.NewReportStore(storage.StorageConfig{
		Backend:    cfg.Storage.Backend,
		LocalDir:   cfg.Storage.LocalDir,
		Bucket:     cfg.Storage.Bucket,
		S3Endpoint: cfg.Storage.S3Endpoint,
		S3Region:   cfg.Storage.Region,
		Prefix:     cfg.Storage.Prefix,
		PartSizeMB: cfg.Storage.PartSizeMB,
	})
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	slog.Info("publishing",
		"component", "main",
		"dir", dir,
		"pattern", cfg.Publish.FilePattern,
		"destination", store.URI(""),
		"dry_run", cfg.Publish.DryRun,
	)

	pub := publisher.New(publisher.Config{
		Dir:          dir,
		Pattern:      cfg.Publish.FilePattern,
		ManifestPath: cfg.Publish.ManifestPath,
		MaxWorkers:   cfg.Publish.MaxWorkers,
		DryRun:       cfg.Publish.DryRun,
		SkipIfExists: cfg.Publish.SkipIfExists,
	}, store)

	sum, err := pub.Run(cmd.Context())

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Printf("\n%s\n", cyan("=== Publish Summary ==="))
	fmt.Printf("  Total:     %d\n", sum.Total)
	fmt.Printf("  Uploaded:  %s\n", green(sum.Uploaded))
	fmt.Printf("  Skipped:   %d\n", sum.Skipped)
	fmt.Printf("  Failed:    %s\n", red(sum.Failed))
	fmt.Printf("  Remaining: %d\n", sum.Remaining())
	fmt.Printf("  Bytes:     %d\n", sum.Bytes)
	fmt.Printf("  Duration:  %s\n\n", sum.Duration.Round(time.Millisecond))

	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d file(s) failed to upload", sum.Failed)
	}
	return nil
}
