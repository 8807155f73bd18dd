package speaker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/snarg/speaker-id/internal/audio"
	"github.com/snarg/speaker-id/internal/features"
)

var sharedExtractor = features.NewExtractor()

func sineWAV(freq float64) []byte {
	samples := make([]float64, features.SampleRate)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/features.SampleRate)
	}
	return audio.EncodeWAV(samples, features.SampleRate)
}

func noiseWAV(seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	samples := make([]float64, features.SampleRate)
	for i := range samples {
		samples[i] = rng.Float64() - 0.5
	}
	return audio.EncodeWAV(samples, features.SampleRate)
}

// memSamples is an in-memory SampleStore with injectable failures.
type memSamples struct {
	mu            sync.Mutex
	files         map[string][]byte
	failSave      error
	failDeleteDir error
}

func newMemSamples() *memSamples {
	return &memSamples{files: map[string][]byte{}}
}

func (m *memSamples) Save(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.files[key] = data
	return nil
}

func (m *memSamples) Exists(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[key]
	return ok
}

func (m *memSamples) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func (m *memSamples) DeleteDir(_ context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDeleteDir != nil {
		return m.failDeleteDir
	}
	for k := range m.files {
		if strings.HasPrefix(k, dir+"/") {
			delete(m.files, k)
		}
	}
	return nil
}

func (m *memSamples) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// flakyPersister wraps a FilePersister, counting saves and failing them on
// demand.
type flakyPersister struct {
	*FilePersister
	mu    sync.Mutex
	saves int
	fail  error
}

func (p *flakyPersister) Save(ctx context.Context, doc Document) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.saves++
	return p.FilePersister.Save(ctx, doc)
}

func (p *flakyPersister) setFail(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

func (p *flakyPersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

var errDiskFull = errors.New("disk full")

type fixture struct {
	store     *Store
	samples   *memSamples
	persister *flakyPersister
	path      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speakers_database.json")
	f := &fixture{
		samples:   newMemSamples(),
		persister: &flakyPersister{FilePersister: NewFilePersister(path)},
		path:      path,
	}
	f.store = f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Persister: f.persister,
		Samples:   f.samples,
		Extractor: sharedExtractor,
		Log:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return s
}
