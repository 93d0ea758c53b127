// Package storage holds upload session state. Two backends satisfy
// SessionStore: an in-process MemoryStore and a Redis-backed RedisStore.
package storage

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("session already exists")
)

// SessionStore is shared by every handler invocation in the process.
// Implementations must be safe for concurrent use and must apply Update
// atomically: readers see either the old or the new record, never a mix.
type SessionStore interface {
	// Create inserts a new session and fails with ErrExists if the id is taken.
	Create(ctx context.Context, s *model.UploadSession) error
	// Put inserts or overwrites a session.
	Put(ctx context.Context, s *model.UploadSession) error
	// Get returns a copy of the session.
	Get(ctx context.Context, id string) (*model.UploadSession, error)
	// Update applies fn to the session. If fn returns an error nothing is stored.
	Update(ctx context.Context, id string, fn func(*model.UploadSession) error) error
}
