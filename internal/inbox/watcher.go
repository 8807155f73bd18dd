package inbox

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/api"
	"github.com/snarg/speaker-id/internal/audio"
	"github.com/snarg/speaker-id/internal/features"
	"github.com/snarg/speaker-id/internal/metrics"
	"github.com/snarg/speaker-id/internal/speaker"
)

// Defaults for Options fields left zero.
const (
	DefaultDebounce      = 500 * time.Millisecond
	DefaultBatchSize     = 32
	DefaultBatchInterval = 2 * time.Second

	failedDirName = ".failed"
)

// Options configures a Watcher.
type Options struct {
	Dir           string
	Debounce      time.Duration
	BatchSize     int
	BatchInterval time.Duration
	Log           zerolog.Logger
}

// pendingFile is one inbox file waiting in the batcher.
type pendingFile struct {
	path   string
	sample speaker.Sample
}

// Watcher monitors an enrollment inbox laid out as <speaker_id>/<file> and
// feeds new audio files to the store in batches. Imported files are removed;
// files that can never be enrolled are moved under .failed/.
type Watcher struct {
	store    *speaker.Store
	watchDir string
	debounce time.Duration
	log      zerolog.Logger

	watcher  *fsnotify.Watcher
	batcher  *Batcher[pendingFile]
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
	inflight       map[string]struct{}

	// Stats
	filesProcessed atomic.Int64
	filesFailed    atomic.Int64
	status         atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

// New creates a Watcher for opts.Dir. Call Start to begin watching.
func New(store *speaker.Store, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultBatchInterval
	}
	w := &Watcher{
		store:          store,
		watchDir:       opts.Dir,
		debounce:       opts.Debounce,
		log:            opts.Log.With().Str("component", "inbox").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		inflight:       make(map[string]struct{}),
	}
	w.batcher = NewBatcher(opts.BatchSize, opts.BatchInterval, w.importBatch)
	w.status.Store("starting")
	return w
}

// Start creates the inbox directory if needed, watches it and every speaker
// directory beneath it, and backfills files already present.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.watchDir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fw

	dirCount := 0
	err = filepath.WalkDir(w.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.watchDir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if addErr := fw.Add(path); addErr != nil {
			w.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
		} else {
			dirCount++
		}
		return nil
	})
	if err != nil {
		fw.Close()
		return err
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.loopDone = make(chan struct{})

	w.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", w.watchDir).
		Msg("inbox watcher initialized")

	go w.watchLoop()
	go w.backfill()
	return nil
}

// Stop closes the fsnotify watcher, cancels pending debounces, and flushes
// files already read into the batcher.
func (w *Watcher) Stop() {
	w.status.Store("stopped")
	if w.watcher != nil {
		w.watcher.Close()
		<-w.loopDone
	}

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.batcher.Stop()
	if w.cancel != nil {
		w.cancel()
	}
	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_failed", w.filesFailed.Load()).
		Msg("inbox watcher stopped")
}

// Status returns the current watcher status for the health endpoint.
func (w *Watcher) Status() *api.WatcherStatusData {
	s, _ := w.status.Load().(string)
	return &api.WatcherStatusData{
		Status:         s,
		WatchDir:       w.watchDir,
		FilesProcessed: w.filesProcessed.Load(),
		FilesFailed:    w.filesFailed.Load(),
	}
}

func (w *Watcher) watchLoop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			// New speaker directory: watch it and pick up anything copied in
			// before the watch was registered.
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if isHidden(filepath.Base(event.Name)) {
					continue
				}
				if err := w.watcher.Add(event.Name); err != nil {
					w.log.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					continue
				}
				w.log.Debug().Str("path", event.Name).Msg("watching new directory")
				w.scanDir(event.Name)
				continue
			}

			if _, _, ok := w.parsePath(event.Name); !ok {
				continue
			}
			w.scheduleProcess(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// parsePath maps an inbox path to its speaker id and file name. Only audio
// files exactly one level below the inbox root qualify.
func (w *Watcher) parsePath(path string) (id, file string, ok bool) {
	rel, err := filepath.Rel(w.watchDir, path)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || isHidden(parts[0]) || isHidden(parts[1]) {
		return "", "", false
	}
	if !audio.IsAudioFile(parts[1]) {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// scheduleProcess debounces file processing so a file still being written is
// read only once it has been quiet for the debounce window.
func (w *Watcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if _, busy := w.inflight[path]; busy {
		return
	}
	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(w.debounce)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(w.debounce, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.enqueue(path)
	})
}

// enqueue reads a settled file and hands it to the batcher.
func (w *Watcher) enqueue(path string) {
	id, file, ok := w.parsePath(path)
	if !ok {
		return
	}

	w.debounceMu.Lock()
	if _, busy := w.inflight[path]; busy {
		w.debounceMu.Unlock()
		return
	}
	w.inflight[path] = struct{}{}
	w.debounceMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		w.done(path)
		if !errors.Is(err, fs.ErrNotExist) {
			w.log.Warn().Err(err).Str("path", path).Msg("failed to read inbox file")
		}
		return
	}

	item := pendingFile{
		path:   path,
		sample: speaker.Sample{SpeakerID: id, Filename: file, Data: data},
	}
	if !w.batcher.Add(item) {
		w.done(path)
	}
}

func (w *Watcher) done(paths ...string) {
	w.debounceMu.Lock()
	for _, p := range paths {
		delete(w.inflight, p)
	}
	w.debounceMu.Unlock()
}

// importBatch is the batcher flush function.
func (w *Watcher) importBatch(batch []pendingFile) {
	paths := make([]string, len(batch))
	samples := make([]speaker.Sample, len(batch))
	for i, p := range batch {
		paths[i] = p.path
		samples[i] = p.sample
	}
	defer w.done(paths...)

	// The store outlives the watcher; a cancelled watcher context must not
	// abort a batch already handed to it.
	ctx := context.WithoutCancel(w.ctx)
	report, err := w.store.Import(ctx, samples)
	metrics.ObserveImport(report, err)
	if err != nil {
		// Nothing from this batch was committed. Files stay put and are
		// retried on the next backfill.
		w.log.Error().Err(err).Int("files", len(batch)).Msg("inbox import failed")
		return
	}

	failed := make(map[string]error, len(report.Failed))
	for _, f := range report.Failed {
		failed[f.SpeakerID+"/"+f.Filename] = f.Err
	}

	for _, p := range batch {
		key := p.sample.SpeakerID + "/" + p.sample.Filename
		ferr, bad := failed[key]
		switch {
		case !bad:
			w.filesProcessed.Add(1)
			if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.log.Warn().Err(err).Str("path", p.path).Msg("failed to remove imported file")
			}
		case permanent(ferr):
			w.filesFailed.Add(1)
			w.quarantine(p)
		default:
			w.log.Warn().Err(ferr).Str("path", p.path).Msg("inbox file not enrolled, will retry")
		}
	}
}

// permanent reports whether a failed sample can never be enrolled as-is.
func permanent(err error) bool {
	return features.ReasonOf(err) != 0 || errors.Is(err, speaker.ErrInvalidID)
}

// quarantine moves a rejected file to .failed/<speaker_id>/ so it is not
// retried.
func (w *Watcher) quarantine(p pendingFile) {
	dir := filepath.Join(w.watchDir, failedDirName, p.sample.SpeakerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.log.Warn().Err(err).Str("path", p.path).Msg("failed to create quarantine directory")
		return
	}
	dst := filepath.Join(dir, p.sample.Filename)
	if err := os.Rename(p.path, dst); err != nil {
		w.log.Warn().Err(err).Str("path", p.path).Msg("failed to quarantine inbox file")
		return
	}
	w.log.Info().Str("path", dst).Msg("inbox file rejected")
}

// scanDir enqueues every audio file directly inside a speaker directory.
func (w *Watcher) scanDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, _, ok := w.parsePath(path); ok {
			w.scheduleProcess(path)
		}
	}
}

// backfill enrolls files that were already in the inbox at startup, in
// path order.
func (w *Watcher) backfill() {
	w.status.Store("backfilling")
	start := time.Now()

	var files []string
	_ = filepath.WalkDir(w.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.watchDir && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, _, ok := w.parsePath(path); ok {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)

	if len(files) > 0 {
		w.log.Info().Int("files", len(files)).Msg("backfill starting")
	}
	for _, path := range files {
		if w.ctx.Err() != nil {
			w.log.Info().Msg("backfill interrupted by shutdown")
			return
		}
		w.enqueue(path)
	}

	w.status.CompareAndSwap("backfilling", "watching")
	if len(files) > 0 {
		w.log.Info().
			Int("files", len(files)).
			Dur("elapsed", time.Since(start)).
			Msg("backfill complete")
	}
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
