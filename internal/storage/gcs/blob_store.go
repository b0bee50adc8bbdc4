// Package gcs archives raw provider batches to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the archive bucket.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// BlobStore uploads one object per crawl batch.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// New builds a BlobStore over client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket: client.Bucket(bucket),
		name:   bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Check verifies the bucket is reachable with the current credentials.
func (s *BlobStore) Check(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %q: %w", s.name, err)
	}
	return nil
}

// PutObject uploads a batch and returns its gs:// URI. The first path segment is
// recorded as the object's platform metadata.
func (s *BlobStore) PutObject(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("object name is required")
	}
	object := path.Join(s.prefix, name)

	// Cancelling the upload context discards a partial object.
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(object).NewWriter(uploadCtx)
	w.ContentType = contentType
	if platform, _, ok := strings.Cut(name, "/"); ok {
		w.Metadata = map[string]string{"platform": platform}
	}
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", object, err)
	}
	return "gs://" + s.name + "/" + object, nil
}
