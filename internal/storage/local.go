package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

// NewLocalStore creates a store rooted at a local directory, useful for a
// mounted network share or a test bucket.
func NewLocalStore(baseDir, prefix string) (ReportStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory %s: %w", baseDir, err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", abs, err)
	}

	bucket, err := fileblob.OpenBucket(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open local bucket %s: %w", abs, err)
	}

	return &bucketStore{
		bucket: bucket,
		name:   abs,
		scheme: "file",
		prefix: prefix,
	}, nil
}

// NewMemStore creates an in-memory store. Contents are lost on Close.
func NewMemStore(prefix string) (ReportStore, error) {
	return &bucketStore{
		bucket: memblob.OpenBucket(nil),
		name:   "mem",
		scheme: "mem",
		prefix: prefix,
	}, nil
}
