package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

func TestMemoryStoreCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 100)

	require.NoError(t, store.Create(ctx, model.NewUploadSession("s1", "a.txt", 8)))
	require.ErrorIs(t, store.Create(ctx, model.NewUploadSession("s1", "b.txt", 1)), ErrExists)

	err := store.Update(ctx, "s1", func(s *model.UploadSession) error { return s.Advance(5) })
	require.NoError(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.Filename)
	require.EqualValues(t, 5, got.Received)

	// Mutating the returned copy must not leak into the store.
	got.Received = 8
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.EqualValues(t, 5, again.Received)
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 100)
	require.NoError(t, store.Put(ctx, model.NewUploadSession("s1", "a.txt", 8)))
	require.NoError(t, store.Put(ctx, model.NewUploadSession("s1", "b.txt", 2)))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "b.txt", got.Filename)
	require.Equal(t, 1, store.Len())
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 100)
	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	err = store.Update(ctx, "missing", func(*model.UploadSession) error { return nil })
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreFailedUpdateLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 100)
	require.NoError(t, store.Create(ctx, model.NewUploadSession("s1", "a.txt", 4)))

	err := store.Update(ctx, "s1", func(s *model.UploadSession) error {
		s.Received = 3
		return errors.New("boom")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Zero(t, got.Received)
}

func TestMemoryStoreExpiresFinishedSessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Minute, 100)
	require.NoError(t, store.Create(ctx, model.NewUploadSession("done", "a.txt", 0)))
	require.NoError(t, store.Update(ctx, "done", func(s *model.UploadSession) error { return s.Complete() }))
	require.NoError(t, store.Create(ctx, model.NewUploadSession("busy", "b.txt", 10)))

	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err := store.Get(ctx, "done")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "busy")
	require.NoError(t, err, "in-flight sessions never expire")

	require.Equal(t, 1, store.removeExpired())
	require.Equal(t, 1, store.Len())
}

func TestMemoryStoreEvictsOldestFinishedAtCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 3)
	for _, id := range []string{"old", "newer"} {
		require.NoError(t, store.Create(ctx, model.NewUploadSession(id, id, 0)))
		require.NoError(t, store.Update(ctx, id, func(s *model.UploadSession) error { return s.Complete() }))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, store.Create(ctx, model.NewUploadSession("busy", "busy", 5)))
	require.NoError(t, store.Create(ctx, model.NewUploadSession("fresh", "fresh", 5)))

	require.Equal(t, 3, store.Len())
	_, err := store.Get(ctx, "old")
	require.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{"newer", "busy", "fresh"} {
		_, err := store.Get(ctx, id)
		require.NoError(t, err, id)
	}
}

func TestMemoryStoreNeverEvictsInFlight(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 2)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Create(ctx, model.NewUploadSession(fmt.Sprintf("s%d", i), "f", 1)))
	}
	require.Equal(t, 4, store.Len())
}

func TestMemoryStoreSweepStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(time.Millisecond, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Sweep(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop")
	}
}

func TestMemoryStoreConcurrentReadersNeverSeeTornState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 10)
	const total = 1000
	require.NoError(t, store.Create(ctx, model.NewUploadSession("s", "f", total)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			_ = store.Update(ctx, "s", func(s *model.UploadSession) error { return s.Advance(1) })
		}
		_ = store.Update(ctx, "s", func(s *model.UploadSession) error { return s.Complete() })
	}()

	var last int64
	for {
		got, err := store.Get(ctx, "s")
		require.NoError(t, err)
		require.GreaterOrEqual(t, got.Received, last)
		last = got.Received
		if got.Status == model.StatusCompleted {
			require.EqualValues(t, total, got.Received)
			break
		}
	}
	wg.Wait()
}
