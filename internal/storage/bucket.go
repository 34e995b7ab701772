package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

type uploadOptions struct {
	bufferSize     int
	maxConcurrency int
}

// bucketStore implements ReportStore over a gocloud bucket. Every backend
// shares it and differs only in how the bucket is opened.
type bucketStore struct {
	bucket  *blob.Bucket
	name    string
	scheme  string
	prefix  string
	options uploadOptions
}

// Upload streams localPath to key.
func (s *bucketStore) Upload(ctx context.Context, key, localPath string) (*ObjectInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Cancelling the writer's context before Close discards the partial object.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType:    contentType,
		BufferSize:     s.options.bufferSize,
		MaxConcurrency: s.options.maxConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", key, err)
	}

	n, err := io.Copy(w, f)
	if err != nil {
		cancel()
		w.Close()
		return nil, fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", key, err)
	}

	return &ObjectInfo{Key: key, Size: n}, nil
}

// Exists checks if an object already exists.
func (s *bucketStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Head returns metadata about a stored object.
func (s *bucketStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("get attributes for %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get attributes for %s: %w", key, err)
	}

	return &ObjectInfo{
		Key:     key,
		Size:    attrs.Size,
		ETag:    attrs.ETag,
		ModTime: attrs.ModTime,
	}, nil
}

// List returns all keys with the given prefix.
func (s *bucketStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir {
			continue
		}
		keys = append(keys, obj.Key)
	}

	return keys, nil
}

// Key joins the store prefix and rel.
func (s *bucketStore) Key(rel string) string {
	return joinKey(s.prefix, rel)
}

// URI returns the canonical URI for the given key.
func (s *bucketStore) URI(key string) string {
	if s.scheme == "file" {
		return "file://" + filepath.ToSlash(filepath.Join(s.name, filepath.FromSlash(key)))
	}
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, key)
}

// Bucket names the bucket or base directory.
func (s *bucketStore) Bucket() string {
	return s.name
}

// Close releases the bucket connection.
func (s *bucketStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// ErrNotFound is returned by Head for missing objects.
var ErrNotFound = errors.New("object not found")
