package storage

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
)

// NewGCSStore opens a Google Cloud Storage bucket. Credentials come from the
// environment (Application Default Credentials).
func NewGCSStore(bucketName, prefix string, opts uploadOptions) (ReportStore, error) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	return &bucketStore{
		bucket:  bucket,
		name:    bucketName,
		scheme:  "gs",
		prefix:  prefix,
		options: opts,
	}, nil
}
