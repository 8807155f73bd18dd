package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/config"
)

// SampleStore abstracts enrollment sample storage backends.
type SampleStore interface {
	// Save stores a sample. key format: {speaker_id}/{filename}
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Open returns a reader for the sample.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a sample exists in any backend.
	Exists(ctx context.Context, key string) bool

	// Delete removes one sample. Missing samples are not an error.
	Delete(ctx context.Context, key string) error

	// DeleteDir removes every sample of one speaker.
	DeleteDir(ctx context.Context, dir string) error

	// LocalPath returns the local filesystem path if the file exists on disk.
	// Returns "" if not available locally.
	LocalPath(key string) string

	// URL returns a presigned URL for the sample.
	// Returns "" for local-only backends.
	URL(ctx context.Context, key string) (string, error)

	// Type returns "local", "s3", or "tiered".
	Type() string
}

// SampleIndex lists the sample files the gallery references, by speaker id.
type SampleIndex interface {
	SampleFiles() map[string][]string
}

// New creates a SampleStore based on config. Returns the store and optional
// background services (uploader, reconciler, pruner) that the caller must
// Start/Stop. Returns an error if S3 is configured but unreachable.
func New(cfg config.S3Config, samplesDir string, index SampleIndex, log zerolog.Logger) (SampleStore, []BackgroundService, error) {
	if !cfg.Enabled() {
		local := NewLocalStore(samplesDir)
		return local, []BackgroundService{NewOrphanPruner(samplesDir, index, log)}, nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")

	if !cfg.LocalCache {
		return s3store, nil, nil
	}

	// Tiered mode: local primary + S3 backup
	local := NewLocalStore(samplesDir)
	uploader := NewAsyncUploader(s3store, 256, 2, log)
	tiered := NewTieredStore(s3store, local, uploader, log)

	services := []BackgroundService{
		uploader,
		NewUploadReconciler(samplesDir, s3store, log),
		NewOrphanPruner(samplesDir, index, log),
	}
	return tiered, services, nil
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
