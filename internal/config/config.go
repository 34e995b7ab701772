// Package config loads collector settings from an optional YAML file and the
// environment. Environment variables override the file; command-line flags
// override both and are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/pda-report-collector/internal/extract"
	"github.com/withObsrvr/pda-report-collector/internal/portal"
)

type Config struct {
	Worker  string            `yaml:"worker"`
	Portal  PortalConfig      `yaml:"portal"`
	Paths   PathsConfig       `yaml:"paths"`
	Run     RunConfig         `yaml:"run"`
	Lock    LockConfig        `yaml:"lock"`
	Log     LogConfig         `yaml:"log"`
	Metrics MetricsConfig     `yaml:"metrics"`
	Catalog CatalogConfig     `yaml:"catalog"`
	Audit   AuditConfig       `yaml:"audit"`
	Storage StorageConfig     `yaml:"storage"`
	Publish PublishConfig     `yaml:"publish"`
	Extract extract.Selectors `yaml:"extract"`
}

type PortalConfig struct {
	ListURL           string           `yaml:"list_url"`
	DebugAddr         string           `yaml:"debug_addr"`
	Wait              time.Duration    `yaml:"wait"`
	ClickGap          time.Duration    `yaml:"click_gap"`
	PreferredPageSize int              `yaml:"preferred_page_size"`
	Selectors         portal.Selectors `yaml:"selectors"`
}

type PathsConfig struct {
	DownloadDir string `yaml:"download_dir"`
	SharedDir   string `yaml:"shared_dir"`
	StateDir    string `yaml:"state_dir"`
}

type RunConfig struct {
	MaxRows         int           `yaml:"max_rows"` // 0 = unlimited
	RowPause        time.Duration `yaml:"row_pause"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	ClaimIdentity   bool          `yaml:"claim_identity"`
	Resume          bool          `yaml:"resume"` // continue from the page an interrupted run stopped on
}

type LockConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	StaleAfter time.Duration `yaml:"stale_after"` // negative disables stale takeover
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

type AuditConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

type StorageConfig struct {
	Backend    string `yaml:"backend"`
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	Region     string `yaml:"region"`
	LocalDir   string `yaml:"local_dir"`
	PartSizeMB int    `yaml:"part_size_mb"`
}

type PublishConfig struct {
	FilePattern  string `yaml:"file_pattern"`
	ManifestPath string `yaml:"manifest_path"`
	MaxWorkers   int    `yaml:"max_workers"`
	DryRun       bool   `yaml:"dry_run"`
	SkipIfExists bool   `yaml:"skip_if_exists"`
}

// Default returns the built-in configuration.
func Default() Config {
	worker, err := os.Hostname()
	if err != nil || worker == "" {
		worker = "worker"
	}
	return Config{
		Worker: worker,
		Portal: PortalConfig{
			ListURL:           "https://hrtech.pdaprofile.com/app/people-managment",
			DebugAddr:         "127.0.0.1:9222",
			Wait:              25 * time.Second,
			ClickGap:          350 * time.Millisecond,
			PreferredPageSize: 200,
			Selectors:         portal.DefaultSelectors(),
		},
		Paths: PathsConfig{
			DownloadDir: "./downloads",
			StateDir:    "./state",
		},
		Run: RunConfig{
			RowPause:        1200 * time.Millisecond,
			DownloadTimeout: 180 * time.Second,
		},
		Lock: LockConfig{
			Timeout:    15 * time.Second,
			StaleAfter: 10 * time.Minute,
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
		Storage: StorageConfig{
			Backend:    "s3",
			LocalDir:   "./data",
			PartSizeMB: 16,
		},
		Publish: PublishConfig{
			FilePattern:  "*.pdf",
			ManifestPath: "outputs/manifest.json",
			MaxWorkers:   8,
		},
		Extract: extract.DefaultSelectors(),
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}

	cfg.finish()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML %s: %w", path, err)
	}
	return nil
}

// finish fills values derived from others.
func (c *Config) finish() {
	if c.Paths.SharedDir == "" {
		c.Paths.SharedDir = c.Paths.DownloadDir
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "./data"
	}
}

// Validate reports settings that make a collect run impossible.
func (c Config) Validate() error {
	var errs []error
	if c.Portal.ListURL == "" {
		errs = append(errs, errors.New("LIST_URL is required"))
	}
	if c.Paths.DownloadDir == "" {
		errs = append(errs, errors.New("DOWNLOAD_DIR is required"))
	}
	if c.Run.MaxRows < 0 {
		errs = append(errs, errors.New("MAX_ROWS must not be negative"))
	}
	if c.Run.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("DOWNLOAD_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// applyEnv overrides cfg from environment variables. Invalid values are
// collected and reported together.
func applyEnv(cfg *Config, getenv func(string) string) error {
	p := envParser{getenv: getenv}

	p.str("WORKER_NAME", &cfg.Worker)
	p.str("LIST_URL", &cfg.Portal.ListURL)
	p.str("DEBUG_ADDR", &cfg.Portal.DebugAddr)
	p.duration("WAIT", &cfg.Portal.Wait)
	p.duration("CLICK_GAP", &cfg.Portal.ClickGap)
	p.integer("PREFERRED_PAGE_SIZE", &cfg.Portal.PreferredPageSize)

	p.str("DOWNLOAD_DIR", &cfg.Paths.DownloadDir)
	p.str("SHARED_DIR", &cfg.Paths.SharedDir)
	p.str("STATE_DIR", &cfg.Paths.StateDir)

	p.integer("MAX_ROWS", &cfg.Run.MaxRows)
	p.duration("ROW_PAUSE", &cfg.Run.RowPause)
	p.duration("DOWNLOAD_TIMEOUT", &cfg.Run.DownloadTimeout)
	p.boolean("CLAIM_IDENTITY", &cfg.Run.ClaimIdentity)
	p.boolean("RESUME", &cfg.Run.Resume)

	p.duration("LOCK_TIMEOUT", &cfg.Lock.Timeout)
	p.duration("LOCK_STALE_AFTER", &cfg.Lock.StaleAfter)

	p.str("LOG_FORMAT", &cfg.Log.Format)
	p.str("LOG_LEVEL", &cfg.Log.Level)

	p.boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)
	p.str("METRICS_ADDR", &cfg.Metrics.Address)

	p.str("CATALOG_DSN", &cfg.Catalog.PostgresDSN)

	p.boolean("AUDIT_ENABLED", &cfg.Audit.Enabled)
	p.str("AUDIT_ENDPOINT", &cfg.Audit.Endpoint)

	p.str("STORAGE_BACKEND", &cfg.Storage.Backend)
	p.str("STORAGE_BUCKET", &cfg.Storage.Bucket)
	p.str("S3_BUCKET", &cfg.Storage.Bucket)
	p.str("STORAGE_PREFIX", &cfg.Storage.Prefix)
	p.str("S3_PREFIX", &cfg.Storage.Prefix)
	p.str("S3_ENDPOINT", &cfg.Storage.S3Endpoint)
	p.str("AWS_REGION", &cfg.Storage.Region)
	p.str("LOCAL_DIR", &cfg.Storage.LocalDir)
	p.integer("MULTIPART_CHUNKSIZE_MB", &cfg.Storage.PartSizeMB)

	p.str("FILE_PATTERN", &cfg.Publish.FilePattern)
	p.str("MANIFEST_PATH", &cfg.Publish.ManifestPath)
	p.integer("MAX_WORKERS", &cfg.Publish.MaxWorkers)
	p.boolean("DRY_RUN", &cfg.Publish.DryRun)
	p.boolean("SKIP_IF_EXISTS", &cfg.Publish.SkipIfExists)

	return errors.Join(p.errs...)
}

type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) lookup(key string) (string, bool) {
	v := strings.TrimSpace(p.getenv(key))
	return v, v != ""
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	b, err := parseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

// duration accepts Go durations ("1.5s") and bare numbers as seconds.
func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	d, err := parseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func parseDuration(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return d, nil
}
