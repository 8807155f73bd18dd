package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/audio"
)

// remoteStore is the S3 surface the reconciler needs.
type remoteStore interface {
	Exists(ctx context.Context, key string) bool
	Save(ctx context.Context, key string, data []byte, contentType string) error
}

// UploadReconciler scans speaker directories for samples missing from S3
// and re-uploads them. Handles failed/dropped async uploads and crash recovery.
type UploadReconciler struct {
	dir      string
	s3       remoteStore
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
}

// NewUploadReconciler creates a reconciler that checks for missing S3 uploads.
func NewUploadReconciler(dir string, s3 remoteStore, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		dir:      dir,
		s3:       s3,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { close(r.stop) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup uploads settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// reconcile uploads samples modified within the window that S3 lacks.
// Returns the number uploaded.
func (r *UploadReconciler) reconcile() int {
	var uploaded, failed, checked int

	cutoff := time.Now().Add(-r.window)

	speakerDirs, _ := os.ReadDir(r.dir)
	for _, sd := range speakerDirs {
		if !sd.IsDir() {
			continue
		}
		speakerPath := filepath.Join(r.dir, sd.Name())
		files, _ := os.ReadDir(speakerPath)
		for _, f := range files {
			if f.IsDir() || isTempFile(f.Name()) {
				continue
			}
			info, err := f.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			checked++
			key := sd.Name() + "/" + f.Name()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.s3.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			data, readErr := os.ReadFile(filepath.Join(speakerPath, f.Name()))
			if readErr != nil {
				continue
			}

			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			if saveErr := r.s3.Save(ctx, key, data, audio.ContentType(f.Name())); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed++
			} else {
				uploaded++
			}
			cancel()
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, ".tmp")
}
