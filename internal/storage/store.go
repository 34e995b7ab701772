package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string // MD5 for S3/GCS, empty for local
	ModTime time.Time
}

// ReportStore abstracts writing report files to object storage.
type ReportStore interface {
	// Upload copies the local file to key. The object only becomes visible
	// once fully written.
	Upload(ctx context.Context, key, localPath string) (*ObjectInfo, error)

	// Exists checks if an object already exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Head returns metadata about a stored object.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Key joins the configured prefix and a slash-separated relative path.
	Key(rel string) string

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Bucket names the bucket (or directory) objects are written to.
	Bucket() string

	// Close releases any resources.
	Close() error
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Backend string // "local" | "gcs" | "s3" | "mem"

	// Local filesystem
	LocalDir string

	// GCS and S3
	Bucket string

	// S3 (also works for B2, R2, MinIO)
	S3Endpoint string // custom endpoint for B2/MinIO/R2
	S3Region   string

	// Common
	Prefix        string // path prefix within bucket or local dir
	PartSizeMB    int    // upload buffer per part; 0 uses the driver default
	PartsInFlight int    // parallel parts per upload; 0 uses the driver default
}

// NewReportStore creates a storage backend based on configuration.
func NewReportStore(cfg StorageConfig) (ReportStore, error) {
	opts := uploadOptions{
		bufferSize:     cfg.PartSizeMB * 1024 * 1024,
		maxConcurrency: cfg.PartsInFlight,
	}
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("LocalDir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir, cfg.Prefix)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		return NewGCSStore(cfg.Bucket, cfg.Prefix, opts)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		return NewS3Store(cfg.Bucket, cfg.Prefix, cfg.S3Endpoint, cfg.S3Region, opts)
	case "mem":
		return NewMemStore(cfg.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// joinKey joins prefix and rel with exactly one slash between them.
func joinKey(prefix, rel string) string {
	rel = strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(rel, "\\", "/")), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}
