package speaker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCorpusFile(t *testing.T, root string, parts ...string) {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, sineWAV(200+float64(len(path))), 0o644))
}

func TestBulkLoad(t *testing.T) {
	ctx := context.Background()
	corpus := t.TempDir()
	for _, f := range []string{"a.wav", "b.wav", "c.wav", "d.wav"} {
		writeCorpusFile(t, corpus, "84", "121123", f)
	}
	writeCorpusFile(t, corpus, "84", "121550", "x.wav")
	writeCorpusFile(t, corpus, "174", "50561", "y.wav")
	writeCorpusFile(t, corpus, "174", "notes.txt")
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "README"), []byte("corpus"), 0o644))

	f := newFixture(t)
	report, err := BulkLoad(ctx, f.store, corpus, BulkOptions{IDPrefix: "ls-", Log: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, 5, report.Enrolled)
	assert.Equal(t, 2, report.NewSpeakers)
	assert.Equal(t, 1, f.persister.saveCount())

	sp, err := f.store.Speaker("ls-84")
	require.NoError(t, err)
	assert.Equal(t, []string{"1_a.wav", "2_b.wav", "3_c.wav", "4_x.wav"}, sp.Files)
	assert.Equal(t, "Speaker ls-84", sp.Name)

	t.Run("second_load_skips_known_speakers", func(t *testing.T) {
		report, err := BulkLoad(ctx, f.store, corpus, BulkOptions{IDPrefix: "ls-", Log: zerolog.Nop()})
		require.NoError(t, err)
		assert.Zero(t, report.Enrolled)
		assert.Equal(t, 1, f.persister.saveCount())
	})

	t.Run("reload", func(t *testing.T) {
		report, err := BulkLoad(ctx, f.store, corpus, BulkOptions{IDPrefix: "ls-", SamplesPerGroup: 1, Reload: true, Log: zerolog.Nop()})
		require.NoError(t, err)
		assert.Equal(t, 3, report.Enrolled)
		sp, err := f.store.Speaker("ls-84")
		require.NoError(t, err)
		assert.Equal(t, 6, sp.Samples)
	})

	t.Run("missing_corpus", func(t *testing.T) {
		_, err := BulkLoad(ctx, f.store, filepath.Join(corpus, "nope"), BulkOptions{Log: zerolog.Nop()})
		require.Error(t, err)
	})
}

func TestImportFromPaths(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.wav")
	require.NoError(t, os.WriteFile(good, sineWAV(330), 0o644))

	f := newFixture(t)
	report, err := f.store.Import(ctx, []Sample{
		{SpeakerID: "paths", Filename: "good.wav", Path: good},
		{SpeakerID: "paths", Filename: "gone.wav", Path: filepath.Join(dir, "gone.wav")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Enrolled)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "gone.wav", report.Failed[0].Filename)
	var sio *StoreIOError
	assert.ErrorAs(t, report.Failed[0].Err, &sio)

	sp, err := f.store.Speaker("paths")
	require.NoError(t, err)
	require.Len(t, sp.Files, 1)
	f.samples.mu.Lock()
	stored := f.samples.files["paths/"+sp.Files[0]]
	f.samples.mu.Unlock()
	assert.Equal(t, sineWAV(330), stored)
}
