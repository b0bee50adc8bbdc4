// Package storage selects the blob store used to archive raw provider batches.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/storage/gcs"
	"github.com/JakeFAU/realtime-social-crawler/internal/storage/local"
	"github.com/JakeFAU/realtime-social-crawler/internal/storage/memory"
)

// Supported archive backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config selects and configures a blob backend.
type Config struct {
	Backend string
	Bucket  string
	Prefix  string
	BaseDir string
}

// NewBlobStore builds the configured backend. The returned close function releases
// any client the backend owns and is never nil.
func NewBlobStore(ctx context.Context, cfg Config, logger *zap.Logger) (crawler.BlobStore, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case BackendLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir, Prefix: cfg.Prefix})
		if err != nil {
			return nil, noop, fmt.Errorf("local blob store: %w", err)
		}
		return store, noop, nil
	case BackendGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("failed to close gcs client", zap.Error(closeErr))
			}
			return nil, noop, fmt.Errorf("gcs blob store: %w", err)
		}
		if err := store.Check(ctx); err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("failed to close gcs client", zap.Error(closeErr))
			}
			return nil, noop, err
		}
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
