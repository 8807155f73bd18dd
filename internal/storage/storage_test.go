package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewLocalStore(dir)
	assert.Equal(t, "local", s.Type())

	t.Run("save_open_exists", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "A/1_a.wav", []byte("riff"), "audio/wav"))
		assert.True(t, s.Exists(ctx, "A/1_a.wav"))
		assert.Equal(t, filepath.Join(dir, "A", "1_a.wav"), s.LocalPath("A/1_a.wav"))

		r, err := s.Open(ctx, "A/1_a.wav")
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		r.Close()
		require.NoError(t, err)
		assert.Equal(t, "riff", string(data))

		url, err := s.URL(ctx, "A/1_a.wav")
		require.NoError(t, err)
		assert.Empty(t, url)
	})

	t.Run("no_temp_files_left", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Join(dir, "A"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, isTempFile(e.Name()), e.Name())
		}
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "A/2_b.wav", []byte("x"), ""))
		require.NoError(t, s.Delete(ctx, "A/2_b.wav"))
		assert.False(t, s.Exists(ctx, "A/2_b.wav"))
		assert.NoError(t, s.Delete(ctx, "A/2_b.wav"), "missing file is not an error")
	})

	t.Run("delete_dir", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "B/1_x.wav", []byte("x"), ""))
		require.NoError(t, s.DeleteDir(ctx, "B"))
		_, err := os.Stat(filepath.Join(dir, "B"))
		assert.True(t, os.IsNotExist(err))
		assert.True(t, s.Exists(ctx, "A/1_a.wav"), "other speakers untouched")
		assert.NoError(t, s.DeleteDir(ctx, "B"))
	})

	t.Run("rejects_escaping_keys", func(t *testing.T) {
		for _, key := range []string{"../x.wav", "A/../../x.wav", "/etc/passwd", "..", "."} {
			assert.Error(t, s.Save(ctx, key, []byte("x"), ""), key)
			assert.Error(t, s.DeleteDir(ctx, key), key)
			assert.False(t, s.Exists(ctx, key), key)
			assert.Empty(t, s.LocalPath(key), key)
		}
		_, err := os.Stat(filepath.Join(filepath.Dir(dir), "x.wav"))
		assert.True(t, os.IsNotExist(err))
	})
}

type fakeRemote struct {
	mu      sync.Mutex
	objects map[string][]byte
	failFor map[string]bool
	saves   []string

	// When set, Save reports on started and blocks until gate closes.
	started chan string
	gate    chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string][]byte{}, failFor: map[string]bool{}}
}

func (f *fakeRemote) Exists(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func (f *fakeRemote) Save(_ context.Context, key string, data []byte, _ string) error {
	if f.gate != nil {
		f.started <- key
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, key)
	if f.failFor[key] {
		return errors.New("upload refused")
	}
	f.objects[key] = data
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func TestAsyncUploader(t *testing.T) {
	remote := newFakeRemote()
	u := NewAsyncUploader(remote, 16, 2, zerolog.Nop())
	u.Start()
	for _, key := range []string{"A/1.wav", "A/2.wav", "B/1.wav"} {
		u.Enqueue(key, []byte(key), "audio/wav")
	}
	u.Stop()
	assert.Equal(t, 3, remote.count(), "stop drains the queue")

	u.Enqueue("C/1.wav", []byte("late"), "audio/wav")
	u.Stop()
	assert.Equal(t, 3, remote.count(), "jobs after stop are dropped")
}

func TestAsyncUploaderCancelPrefix(t *testing.T) {
	remote := newFakeRemote()
	remote.started = make(chan string, 8)
	remote.gate = make(chan struct{})
	u := NewAsyncUploader(remote, 16, 1, zerolog.Nop())
	u.Start()

	u.Enqueue("A/1.wav", []byte("a1"), "audio/wav")
	u.Enqueue("A/2.wav", []byte("a2"), "audio/wav")
	u.Enqueue("B/1.wav", []byte("b1"), "audio/wav")
	require.Equal(t, "A/1.wav", <-remote.started)

	// A/1.wav is in flight, A/2.wav still queued.
	u.CancelPrefix("A/")
	u.Enqueue("A/3.wav", []byte("a3"), "audio/wav")
	close(remote.gate)
	u.Stop()

	remote.mu.Lock()
	defer remote.mu.Unlock()
	assert.NotContains(t, remote.objects, "A/1.wav", "in-flight upload removed after landing")
	assert.NotContains(t, remote.saves, "A/2.wav", "queued upload skipped")
	assert.Contains(t, remote.objects, "B/1.wav")
	assert.Contains(t, remote.objects, "A/3.wav", "jobs enqueued after the cancel still upload")
}

func TestAsyncUploaderQueueFull(t *testing.T) {
	remote := newFakeRemote()
	u := NewAsyncUploader(remote, 1, 1, zerolog.Nop())
	// Not started: the second job overflows the buffer.
	u.Enqueue("A/1.wav", nil, "")
	u.Enqueue("A/2.wav", nil, "")
	u.Start()
	u.Stop()
	assert.Equal(t, 1, remote.count())
}

func TestUploadReconciler(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string, age time.Duration) {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(rel), 0o644))
		mt := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}
	write("A/1_a.wav", time.Minute)
	write("A/2_b.wav", time.Minute)
	write("A/.sample-123.tmp", time.Minute)
	write("B/1_c.wav", 48*time.Hour)
	write("C/1_d.wav", time.Minute)
	write("stray.wav", time.Minute)

	remote := newFakeRemote()
	remote.objects["A/2_b.wav"] = []byte("already there")
	remote.failFor["C/1_d.wav"] = true

	r := NewUploadReconciler(dir, remote, zerolog.Nop())
	assert.Equal(t, 1, r.reconcile())
	assert.True(t, remote.Exists(context.Background(), "A/1_a.wav"))
	assert.False(t, remote.Exists(context.Background(), "B/1_c.wav"), "outside window")
	assert.Equal(t, 2, remote.count())

	assert.Equal(t, 0, r.reconcile(), "second pass finds nothing new")
}

type staticIndex map[string][]string

func (s staticIndex) SampleFiles() map[string][]string { return s }

func TestOrphanPruner(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string, age time.Duration) string {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		mt := time.Now().Add(-age)
		require.NoError(t, os.Chtimes(path, mt, mt))
		return path
	}
	kept := write("A/1_a.wav", 3*time.Hour)
	orphan := write("A/2_a.wav", 3*time.Hour)
	fresh := write("A/3_a.wav", time.Minute)
	gone := write("Z/1_z.wav", 3*time.Hour)

	p := NewOrphanPruner(dir, staticIndex{"A": {"1_a.wav"}}, zerolog.Nop())
	assert.Equal(t, 2, p.prune())

	assert.FileExists(t, kept)
	assert.FileExists(t, fresh)
	assert.NoFileExists(t, orphan)
	assert.NoFileExists(t, gone)
	assert.NoDirExists(t, filepath.Join(dir, "Z"), "empty speaker dir removed")
}

func TestHumanizeBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanizeBytes(512))
	assert.Equal(t, "1.5 KB", humanizeBytes(1536))
	assert.Equal(t, "2.0 MB", humanizeBytes(2<<20))
	assert.Equal(t, "3.0 GB", humanizeBytes(3<<30))
}
