package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
	"github.com/dharsanguruparan/ProgressDrop/internal/storage"
)

// recordingStore snapshots Received after every successful update.
type recordingStore struct {
	*storage.MemoryStore
	mu        sync.Mutex
	snapshots []int64
}

func (r *recordingStore) Update(ctx context.Context, id string, fn func(*model.UploadSession) error) error {
	if err := r.MemoryStore.Update(ctx, id, fn); err != nil {
		return err
	}
	s, err := r.MemoryStore.Get(ctx, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshots = append(r.snapshots, s.Received)
	r.mu.Unlock()
	return nil
}

func newSession(t *testing.T, store storage.SessionStore, id string, total int) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), model.NewUploadSession(id, "data.bin", int64(total))))
}

func TestPersistWritesInChunksAndCompletes(t *testing.T) {
	dir := t.TempDir()
	store := &recordingStore{MemoryStore: storage.NewMemoryStore(time.Hour, 10)}
	payload := bytes.Repeat([]byte("0123456789abcdef"), 12500) // 200000 bytes
	newSession(t, store, "s1", len(payload))

	p := New(store, dir, 64<<10, 0)
	path, err := p.Persist(context.Background(), "s1", "data.bin", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "data.bin"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, sess.Status)
	require.EqualValues(t, len(payload), sess.Received)
	require.EqualValues(t, len(payload), sess.Total)

	// Four increments (3 x 64 KiB + tail) plus the completion update.
	require.Equal(t, []int64{65536, 131072, 196608, 200000, 200000}, store.snapshots)

	staged, err := os.ReadDir(filepath.Join(dir, StagingDir))
	require.NoError(t, err)
	require.Empty(t, staged, "temp file must be renamed away")
}

func TestPersistEmptyPayload(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewMemoryStore(time.Hour, 10)
	newSession(t, store, "s1", 0)

	path, err := New(store, dir, 1024, 0).Persist(context.Background(), "s1", "empty.txt", bytes.NewReader(nil))
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, sess.Status)
}

func TestPersistOverwritesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("old contents"), 0o644))
	store := storage.NewMemoryStore(time.Hour, 10)
	newSession(t, store, "s1", 3)

	path, err := New(store, dir, 1024, 0).Persist(context.Background(), "s1", "a.txt", bytes.NewReader([]byte("new")))
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "new", string(got))
}

func TestPersistMissingDirectoryFailsSession(t *testing.T) {
	store := storage.NewMemoryStore(time.Hour, 10)
	newSession(t, store, "s1", 3)
	dir := filepath.Join(t.TempDir(), "gone")

	_, err := New(store, dir, 1024, 0).Persist(context.Background(), "s1", "a.txt", bytes.NewReader([]byte("abc")))
	require.ErrorIs(t, err, ErrIO)

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, sess.Status)
	require.NotEmpty(t, sess.Error)
}

func TestPersistShortSourceFailsWithoutTouchingDestination(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewMemoryStore(time.Hour, 10)
	newSession(t, store, "s1", 10)

	_, err := New(store, dir, 4, 0).Persist(context.Background(), "s1", "a.txt", bytes.NewReader([]byte("abcde")))
	require.ErrorIs(t, err, ErrIO)

	_, statErr := os.Stat(filepath.Join(dir, "a.txt"))
	require.True(t, errors.Is(statErr, os.ErrNotExist))
	staged, err := os.ReadDir(filepath.Join(dir, StagingDir))
	require.NoError(t, err)
	require.Empty(t, staged)

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, sess.Status)
	require.EqualValues(t, 5, sess.Received)
}

func TestPersistCancelledContextFailsSession(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewMemoryStore(time.Hour, 10)
	newSession(t, store, "s1", 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(store, dir, 4, time.Second).Persist(ctx, "s1", "a.txt", bytes.NewReader([]byte("abcdefgh")))
	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, context.Canceled)

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, sess.Status)
}

func TestPersistUnknownSession(t *testing.T) {
	store := storage.NewMemoryStore(time.Hour, 10)
	_, err := New(store, t.TempDir(), 4, 0).Persist(context.Background(), "nope", "a.txt", bytes.NewReader(nil))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPersistDotFileNames(t *testing.T) {
	dir := t.TempDir()
	store := storage.NewMemoryStore(time.Hour, 10)
	p := New(store, dir, 4, 0)
	require.NoError(t, p.Prepare())
	require.NoError(t, p.Prepare())

	for i, name := range []string{".env", ".gitignore", ".s1.part"} {
		id := fmt.Sprintf("s%d", i)
		newSession(t, store, id, 5)
		path, err := p.Persist(context.Background(), id, name, bytes.NewReader([]byte("dot!\n")))
		require.NoError(t, err)
		require.Equal(t, filepath.Join(dir, name), path)
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Equal(t, "dot!\n", string(got))
	}
}
