package speaker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/speaker-id/internal/audio"
	"github.com/snarg/speaker-id/internal/features"
)

// SampleStore holds raw enrollment audio. Keys are "{speaker_id}/{file}".
type SampleStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
	// DeleteDir removes every sample under a speaker directory.
	DeleteDir(ctx context.Context, dir string) error
}

// Options configures Open.
type Options struct {
	Persister Persister
	Samples   SampleStore
	// Extractor defaults to features.NewExtractor().
	Extractor *features.Extractor
	Notifier  Notifier
	Log       zerolog.Logger
}

// Store is the enrollment store. Mutations are serialized by a single
// writer lock; reads use the last published gallery and never block.
type Store struct {
	persister Persister
	samples   SampleStore
	extractor *features.Extractor
	notifier  Notifier
	log       zerolog.Logger

	mu      sync.Mutex
	closed  bool
	current atomic.Pointer[gallery]
}

// Open loads the persisted document and returns a ready store.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Persister == nil || opts.Samples == nil {
		return nil, errors.New("speaker store requires a persister and a sample store")
	}
	s := &Store{
		persister: opts.Persister,
		samples:   opts.Samples,
		extractor: opts.Extractor,
		notifier:  opts.Notifier,
		log:       opts.Log.With().Str("component", "store").Logger(),
	}
	if s.extractor == nil {
		s.extractor = features.NewExtractor()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}

	doc, err := s.persister.Load(ctx)
	if err != nil {
		return nil, ioError("load", s.persister.Location(), err)
	}
	g, err := galleryFromDocument(doc)
	if err != nil {
		return nil, &StoreIOError{Op: "load", Path: s.persister.Location(), Err: err}
	}
	s.current.Store(g)

	s.log.Info().
		Str("location", s.persister.Location()).
		Int("speakers", len(g.entries)).
		Int("voiceprints", g.voiceprints()).
		Msg("store loaded")
	return s, nil
}

// Close writes the current gallery one last time. Further mutations fail
// with ErrClosed.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.persist(ctx, s.current.Load())
}

// Extractor returns the extractor used for enrollment.
func (s *Store) Extractor() *features.Extractor { return s.extractor }

func (s *Store) snapshot() *gallery { return s.current.Load() }

// persist saves g. The caller holds s.mu.
func (s *Store) persist(ctx context.Context, g *gallery) error {
	start := time.Now()
	if err := s.persister.Save(ctx, g.document()); err != nil {
		s.log.Error().Err(err).Str("location", s.persister.Location()).Msg("persist failed")
		return ioError("save", s.persister.Location(), err)
	}
	s.log.Debug().
		Int("speakers", len(g.entries)).
		Dur("elapsed", time.Since(start)).
		Msg("store persisted")
	return nil
}

// SampleInfo describes one successful enrollment.
type SampleInfo struct {
	SpeakerID string `json:"speaker_id"`
	Name      string `json:"name"`
	File      string `json:"file"`
	Samples   int    `json:"total_samples"`
	Created   bool   `json:"created"`
}

// Enroll extracts a voiceprint from audio data and appends it to speaker
// id, creating the speaker if needed. A non-empty name replaces the display
// name in the same persist. Extraction failures return a
// *features.ExtractionError and leave the store untouched.
func (s *Store) Enroll(ctx context.Context, id, name, filename string, data []byte) (SampleInfo, error) {
	if err := ValidateID(id); err != nil {
		return SampleInfo{}, err
	}
	vp, err := s.extractor.ExtractAudio(data)
	if err != nil {
		s.log.Warn().Err(err).Str("speaker_id", id).Str("sample", filename).
			Str("reason", features.ReasonOf(err).String()).Msg("no voiceprint produced")
		return SampleInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SampleInfo{}, ErrClosed
	}

	base := s.snapshot()
	tx := base.begin()
	_, existed := base.entries[id]
	file, err := s.addSample(ctx, tx, id, filename, data, vp)
	if err != nil {
		return SampleInfo{}, err
	}
	e, _ := tx.entry(id, false)
	if name = strings.TrimSpace(name); name != "" {
		e.name = name
	}

	if err := s.persist(ctx, tx.next); err != nil {
		s.discardSamples(id, file)
		return SampleInfo{}, err
	}
	s.current.Store(tx.next)

	info := SampleInfo{SpeakerID: id, Name: e.name, File: file, Samples: len(e.prints), Created: !existed}
	s.log.Info().Str("speaker_id", id).Str("sample", file).Int("samples", info.Samples).Msg("sample enrolled")
	s.notifier.Notify(Event{Kind: EventEnrolled, SpeakerID: id, Name: e.name, Sample: file, Time: time.Now()})
	return info, nil
}

// Create enrolls audio under a freshly generated speaker id.
func (s *Store) Create(ctx context.Context, name, filename string, data []byte) (SampleInfo, error) {
	return s.Enroll(ctx, uuid.NewString(), name, filename, data)
}

// addSample writes the raw sample and stages its voiceprint in tx. The
// caller holds s.mu.
func (s *Store) addSample(ctx context.Context, tx *txn, id, filename string, data []byte, vp features.Voiceprint) (string, error) {
	if tx.next.dim != 0 && len(vp) != tx.next.dim {
		return "", fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vp), tx.next.dim)
	}
	var existing []string
	if e, ok := tx.next.entries[id]; ok {
		existing = e.files
	}
	file := s.sampleName(ctx, id, existing, filename)
	key := id + "/" + file
	if err := s.samples.Save(ctx, key, data, audio.ContentType(file)); err != nil {
		return "", &StoreIOError{Op: "write sample", Path: key, Err: err}
	}
	if err := tx.add(id, vp, file); err != nil {
		s.discardSamples(id, file)
		return "", err
	}
	return file, nil
}

// sampleName returns "{n}_{base}" with n one past the current sample
// count, bumped until it names neither a known nor an on-disk sample.
func (s *Store) sampleName(ctx context.Context, id string, existing []string, filename string) string {
	base := sanitizeFilename(filename)
	used := make(map[string]bool, len(existing))
	for _, f := range existing {
		used[f] = true
	}
	for n := len(existing) + 1; ; n++ {
		name := fmt.Sprintf("%d_%s", n, base)
		if !used[name] && !s.samples.Exists(ctx, id+"/"+name) {
			return name
		}
	}
}

// discardSamples removes sample files written by a failed mutation.
func (s *Store) discardSamples(id string, files ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, f := range files {
		if err := s.samples.Delete(ctx, id+"/"+f); err != nil {
			s.log.Warn().Err(err).Str("speaker_id", id).Str("sample", f).Msg("failed to remove orphaned sample")
		}
	}
}

// Rename replaces the display name of an enrolled speaker.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := s.snapshot().begin()
	e, ok := tx.entry(id, false)
	if !ok {
		return ErrNotFound
	}
	e.name = name
	if err := s.persist(ctx, tx.next); err != nil {
		return err
	}
	s.current.Store(tx.next)

	s.log.Info().Str("speaker_id", id).Str("name", name).Msg("speaker renamed")
	s.notifier.Notify(Event{Kind: EventRenamed, SpeakerID: id, Name: name, Time: time.Now()})
	return nil
}

// Delete removes a speaker and its sample directory. The new document is
// persisted first; if the directory cannot be removed the previous document
// is restored and the speaker stays enrolled.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	base := s.snapshot()
	e, ok := base.entries[id]
	if !ok {
		return ErrNotFound
	}
	tx := base.begin()
	tx.remove(id)
	if err := s.persist(ctx, tx.next); err != nil {
		return err
	}

	if err := s.samples.DeleteDir(ctx, id); err != nil {
		s.log.Error().Err(err).Str("speaker_id", id).Msg("sample directory removal failed, restoring speaker")
		if rerr := s.persist(ctx, base); rerr != nil {
			// The document no longer lists the speaker; follow it.
			s.current.Store(tx.next)
			s.log.Error().Err(rerr).Str("speaker_id", id).Msg("restore failed, speaker removed from document but samples remain")
			return &StoreIOError{Op: "delete", Path: id, Err: errors.Join(err, rerr)}
		}
		return &StoreIOError{Op: "delete", Path: id, Err: err}
	}
	s.current.Store(tx.next)

	s.log.Info().Str("speaker_id", id).Int("samples", len(e.files)).Msg("speaker deleted")
	s.notifier.Notify(Event{Kind: EventDeleted, SpeakerID: id, Name: e.name, Time: time.Now()})
	return nil
}

// Sample is one item of a batch import. When Data is nil the audio is read
// from Path, once for extraction and again when the sample is stored, so a
// large batch never holds every file in memory.
type Sample struct {
	SpeakerID string
	Name      string
	Filename  string
	Data      []byte
	Path      string
}

func (smp Sample) load() ([]byte, error) {
	if smp.Data != nil || smp.Path == "" {
		return smp.Data, nil
	}
	data, err := os.ReadFile(smp.Path)
	if err != nil {
		return nil, ioError("read sample", smp.Path, err)
	}
	return data, nil
}

// ImportFailure records a sample that was skipped.
type ImportFailure struct {
	SpeakerID string
	Filename  string
	Err       error
}

// ImportReport summarizes a batch import.
type ImportReport struct {
	Enrolled    int
	NewSpeakers int
	Failed      []ImportFailure
}

// Import enrolls a batch of samples with a single persist. Samples that
// fail validation or extraction are reported and skipped; the rest are
// committed together. A persist failure commits nothing.
func (s *Store) Import(ctx context.Context, batch []Sample) (ImportReport, error) {
	var report ImportReport

	type extracted struct {
		Sample
		vp features.Voiceprint
	}
	ready := make([]extracted, 0, len(batch))
	for _, smp := range batch {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := ValidateID(smp.SpeakerID); err != nil {
			report.Failed = append(report.Failed, ImportFailure{smp.SpeakerID, smp.Filename, err})
			continue
		}
		data, err := smp.load()
		if err != nil {
			report.Failed = append(report.Failed, ImportFailure{smp.SpeakerID, smp.Filename, err})
			continue
		}
		vp, err := s.extractor.ExtractAudio(data)
		if err != nil {
			s.log.Warn().Err(err).Str("speaker_id", smp.SpeakerID).Str("sample", smp.Filename).
				Str("reason", features.ReasonOf(err).String()).Msg("no voiceprint produced")
			report.Failed = append(report.Failed, ImportFailure{smp.SpeakerID, smp.Filename, err})
			continue
		}
		ready = append(ready, extracted{smp, vp})
	}
	if len(ready) == 0 {
		return report, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return report, ErrClosed
	}

	base := s.snapshot()
	tx := base.begin()
	written := map[string][]string{}
	for _, smp := range ready {
		data, err := smp.load()
		if err != nil {
			report.Failed = append(report.Failed, ImportFailure{smp.SpeakerID, smp.Filename, err})
			continue
		}
		file, err := s.addSample(ctx, tx, smp.SpeakerID, smp.Filename, data, smp.vp)
		if err != nil {
			report.Failed = append(report.Failed, ImportFailure{smp.SpeakerID, smp.Filename, err})
			continue
		}
		written[smp.SpeakerID] = append(written[smp.SpeakerID], file)
		if name := strings.TrimSpace(smp.Name); name != "" {
			e, _ := tx.entry(smp.SpeakerID, false)
			e.name = name
		}
		report.Enrolled++
	}
	if report.Enrolled == 0 {
		return report, nil
	}

	if err := s.persist(ctx, tx.next); err != nil {
		for id, files := range written {
			s.discardSamples(id, files...)
		}
		return ImportReport{Failed: report.Failed}, err
	}
	s.current.Store(tx.next)

	for id := range written {
		if _, ok := base.entries[id]; !ok {
			report.NewSpeakers++
		}
	}
	s.log.Info().
		Int("enrolled", report.Enrolled).
		Int("new_speakers", report.NewSpeakers).
		Int("failed", len(report.Failed)).
		Msg("batch imported")
	s.notifier.Notify(Event{Kind: EventImported, Count: report.Enrolled, Time: time.Now()})
	return report, nil
}

// Info is a read-only view of one speaker.
type Info struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Files   []string `json:"samples"`
	Samples int      `json:"total_samples"`
}

// Speaker returns the current view of one speaker.
func (s *Store) Speaker(id string) (Info, error) {
	e, ok := s.snapshot().entries[id]
	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{ID: id, Name: e.name, Files: append([]string(nil), e.files...), Samples: len(e.prints)}, nil
}

// ListSpeakers maps every enrolled speaker id to its display name.
func (s *Store) ListSpeakers() map[string]string {
	g := s.snapshot()
	out := make(map[string]string, len(g.entries))
	for id, e := range g.entries {
		out[id] = e.name
	}
	return out
}

// Speakers returns every speaker ordered by id.
func (s *Store) Speakers() []Info {
	g := s.snapshot()
	out := make([]Info, 0, len(g.entries))
	for _, id := range g.ids() {
		e := g.entries[id]
		out = append(out, Info{ID: id, Name: e.name, Files: append([]string(nil), e.files...), Samples: len(e.prints)})
	}
	return out
}

// SampleFiles maps every speaker id to its sample file names.
func (s *Store) SampleFiles() map[string][]string {
	g := s.snapshot()
	out := make(map[string][]string, len(g.entries))
	for id, e := range g.entries {
		out[id] = append([]string(nil), e.files...)
	}
	return out
}

// GalleryStats counts enrolled speakers and voiceprints.
type GalleryStats struct {
	Speakers    int
	Voiceprints int
	Dimension   int
}

func (s *Store) Stats() GalleryStats {
	g := s.snapshot()
	return GalleryStats{Speakers: len(g.entries), Voiceprints: g.voiceprints(), Dimension: g.dim}
}

// ValidateID rejects ids that are empty or could escape the sample
// directory. MQTT wildcards are refused since the id becomes a topic level.
func ValidateID(id string) error {
	switch {
	case id == "", strings.TrimSpace(id) != id:
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\+#`), id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case !utf8.ValidString(id), strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateName requires a display name of at least two characters.
func ValidateName(name string) error {
	if utf8.RuneCountInString(strings.TrimSpace(name)) < 2 {
		return fmt.Errorf("%w: must be at least 2 characters", ErrInvalidName)
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "sample.wav"
	}
	return name
}
