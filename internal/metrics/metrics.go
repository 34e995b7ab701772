// Package metrics provides Prometheus metrics for the PDA report collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the collector.
type Metrics struct {
	// Row metrics
	RowsProcessed *prometheus.CounterVec
	RowDuration   *prometheus.HistogramVec
	CurrentPage   *prometheus.GaugeVec

	// Shared index metrics
	IndexWrites       *prometheus.CounterVec
	IndexKeys         *prometheus.GaugeVec
	LockWaitDuration  *prometheus.HistogramVec
	LockTimeouts      *prometheus.CounterVec
	StaleLocksRemoved *prometheus.CounterVec

	// Filesystem metrics
	FilesRenamed     *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec
	ReportBytes      *prometheus.HistogramVec

	// Publish metrics
	Uploads     *prometheus.CounterVec
	UploadBytes *prometheus.CounterVec

	// Error metrics
	StorageErrors *prometheus.CounterVec
	CatalogErrors *prometheus.CounterVec
	AuditErrors   *prometheus.CounterVec
	RetryAttempts *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pda_collector"
	}

	m := &Metrics{
		RowsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_processed_total",
				Help:      "Rows processed, by final row state",
			},
			[]string{"worker", "state"},
		),
		RowDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "row_duration_seconds",
				Help:      "Time to process one row, by final row state",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"worker", "state"},
		),
		CurrentPage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "current_page",
				Help:      "Page of the remote list currently being processed",
			},
			[]string{"worker"},
		),
		IndexWrites: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "index_writes_total",
				Help:      "Number of times the shared index was rewritten",
			},
			[]string{"worker"},
		),
		IndexKeys: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "index_keys",
				Help:      "Keys in the shared index after the last write",
			},
			[]string{"worker"},
		),
		LockWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_duration_seconds",
				Help:      "Time spent acquiring the index lock",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"worker", "outcome"},
		),
		LockTimeouts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_timeouts_total",
				Help:      "Lock acquisitions that timed out and proceeded unlocked",
			},
			[]string{"worker"},
		),
		StaleLocksRemoved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_locks_removed_total",
				Help:      "Stale lock markers taken over",
			},
			[]string{"worker"},
		),
		FilesRenamed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_renamed_total",
				Help:      "Existing reports renamed to their canonical name",
			},
			[]string{"worker"},
		),
		DownloadDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "download_duration_seconds",
				Help:      "Time from final generate to a completed download",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
			},
			[]string{"worker"},
		),
		ReportBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_bytes",
				Help:      "Size of acquired reports in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~32MB
			},
			[]string{"worker"},
		),
		Uploads: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Publish outcomes per file",
			},
			[]string{"backend", "outcome"},
		),
		UploadBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Bytes uploaded to object storage",
			},
			[]string{"backend"},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"backend"},
		),
		CatalogErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of report catalog errors",
			},
			[]string{"worker"},
		),
		AuditErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Total number of audit emission errors",
			},
			[]string{"worker"},
		),
		RetryAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"worker", "operation"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Labels is a convenience type for metric labels.
type Labels struct {
	Worker    string
	State     string
	Backend   string
	Outcome   string
	Operation string
}

// IncRowsProcessed counts a row in its final state and records its duration.
func (m *Metrics) IncRowsProcessed(l Labels, seconds float64) {
	m.RowsProcessed.WithLabelValues(l.Worker, l.State).Inc()
	m.RowDuration.WithLabelValues(l.Worker, l.State).Observe(seconds)
}

// SetCurrentPage sets the page being processed.
func (m *Metrics) SetCurrentPage(l Labels, page float64) {
	m.CurrentPage.WithLabelValues(l.Worker).Set(page)
}

// IncIndexWrites counts an index rewrite and records the resulting size.
func (m *Metrics) IncIndexWrites(l Labels, keys float64) {
	m.IndexWrites.WithLabelValues(l.Worker).Inc()
	m.IndexKeys.WithLabelValues(l.Worker).Set(keys)
}

// ObserveLockWait records how long a lock acquisition took. Outcome is
// "held" or "timeout".
func (m *Metrics) ObserveLockWait(l Labels, seconds float64) {
	m.LockWaitDuration.WithLabelValues(l.Worker, l.Outcome).Observe(seconds)
	if l.Outcome == "timeout" {
		m.LockTimeouts.WithLabelValues(l.Worker).Inc()
	}
}

// IncStaleLocksRemoved counts a stale marker takeover.
func (m *Metrics) IncStaleLocksRemoved(l Labels) {
	m.StaleLocksRemoved.WithLabelValues(l.Worker).Inc()
}

// IncFilesRenamed counts a canonical rename of an existing report.
func (m *Metrics) IncFilesRenamed(l Labels) {
	m.FilesRenamed.WithLabelValues(l.Worker).Inc()
}

// ObserveDownload records a completed download.
func (m *Metrics) ObserveDownload(l Labels, seconds, bytes float64) {
	m.DownloadDuration.WithLabelValues(l.Worker).Observe(seconds)
	m.ReportBytes.WithLabelValues(l.Worker).Observe(bytes)
}

// IncUploads counts a publish outcome ("uploaded", "skipped", "failed").
func (m *Metrics) IncUploads(l Labels, bytes float64) {
	m.Uploads.WithLabelValues(l.Backend, l.Outcome).Inc()
	if bytes > 0 {
		m.UploadBytes.WithLabelValues(l.Backend).Add(bytes)
	}
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(l Labels) {
	m.StorageErrors.WithLabelValues(l.Backend).Inc()
}

// IncCatalogErrors increments the catalog errors counter.
func (m *Metrics) IncCatalogErrors(l Labels) {
	m.CatalogErrors.WithLabelValues(l.Worker).Inc()
}

// IncAuditErrors increments the audit errors counter.
func (m *Metrics) IncAuditErrors(l Labels) {
	m.AuditErrors.WithLabelValues(l.Worker).Inc()
}

// IncRetryAttempts increments the retry attempts counter.
func (m *Metrics) IncRetryAttempts(l Labels) {
	m.RetryAttempts.WithLabelValues(l.Worker, l.Operation).Inc()
}
