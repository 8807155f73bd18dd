package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// sampleUploader is the S3 side of an upload job.
type sampleUploader interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// AsyncUploader handles background S3 uploads so enrollment never waits on
// the network. Samples are already on local disk before being enqueued.
type AsyncUploader struct {
	s3       sampleUploader
	ch       chan uploadJob
	workers  int
	log      zerolog.Logger
	wg       sync.WaitGroup
	stopped  atomic.Bool
	stopOnce sync.Once

	// seq numbers jobs in enqueue order; cancelled maps a key prefix to the
	// last seq it applies to.
	seq       atomic.Uint64
	mu        sync.Mutex
	cancelled map[string]uint64
}

type uploadJob struct {
	seq         uint64
	key         string
	data        []byte
	contentType string
}

// NewAsyncUploader creates an async S3 uploader with the given buffer size
// and worker count.
func NewAsyncUploader(s3 sampleUploader, bufferSize, workers int, log zerolog.Logger) *AsyncUploader {
	if workers < 1 {
		workers = 1
	}
	return &AsyncUploader{
		s3:      s3,
		ch:      make(chan uploadJob, bufferSize),
		workers:   workers,
		log:       log.With().Str("component", "async-uploader").Logger(),
		cancelled: map[string]uint64{},
	}
}

// Enqueue adds an S3 upload job. Non-blocking: drops with a warning if full
// or stopped, leaving the sample for the reconciler.
func (u *AsyncUploader) Enqueue(key string, data []byte, contentType string) {
	if u.stopped.Load() {
		return
	}
	job := uploadJob{seq: u.seq.Add(1), key: key, data: data, contentType: contentType}
	select {
	case u.ch <- job:
	default:
		u.log.Warn().Str("key", key).Msg("async upload queue full, skipping (sample safe on disk)")
	}
}

// CancelPrefix drops every job already enqueued for keys under prefix. An
// upload in flight when this is called is removed from S3 once it lands.
// Jobs enqueued afterwards are unaffected.
func (u *AsyncUploader) CancelPrefix(prefix string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.cancelled[prefix] = u.seq.Load()
}

func (u *AsyncUploader) isCancelled(job uploadJob) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for prefix, seq := range u.cancelled {
		if job.seq <= seq && strings.HasPrefix(job.key, prefix) {
			return true
		}
	}
	return false
}

// Start launches worker goroutines.
func (u *AsyncUploader) Start() {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go u.worker()
	}
	u.log.Info().Int("workers", u.workers).Int("buffer", cap(u.ch)).Msg("async uploader started")
}

// Stop stops accepting jobs and waits for queued uploads to drain.
func (u *AsyncUploader) Stop() {
	u.stopOnce.Do(func() {
		u.stopped.Store(true)
		close(u.ch)
	})
	u.wg.Wait()
}

func (u *AsyncUploader) worker() {
	defer u.wg.Done()
	for job := range u.ch {
		if u.isCancelled(job) {
			u.log.Debug().Str("key", job.key).Msg("upload cancelled, sample deleted")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := u.s3.Save(ctx, job.key, job.data, job.contentType); err != nil {
			u.log.Error().Err(err).Str("key", job.key).Msg("async S3 upload failed (sample safe on disk)")
		} else if u.isCancelled(job) {
			// Deleted while the upload was in flight.
			if err := u.s3.Delete(ctx, job.key); err != nil {
				u.log.Warn().Err(err).Str("key", job.key).Msg("failed to remove upload of deleted sample")
			}
		}
		cancel()
	}
}
