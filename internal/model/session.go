// Package model contains the upload session record shared across packages.
package model

import (
	"errors"
	"fmt"
	"time"
)

// SessionStatus describes the upload lifecycle.
type SessionStatus string

const (
	StatusUploading SessionStatus = "uploading"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

var (
	// ErrInvalidTransition is returned when a finished session is mutated.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrOverflow is returned when more bytes are recorded than the session expects.
	ErrOverflow = errors.New("received bytes exceed total")
)

// UploadSession tracks the progress of one upload. The JSON shape is what
// the progress endpoint returns to polling clients.
type UploadSession struct {
	ID        string        `json:"-"`
	Filename  string        `json:"filename"`
	Total     int64         `json:"total"`
	Received  int64         `json:"received"`
	Status    SessionStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"-"`
	UpdatedAt time.Time     `json:"-"`
}

// NewUploadSession returns a session in the uploading state.
func NewUploadSession(id, filename string, total int64) *UploadSession {
	now := time.Now().UTC()
	return &UploadSession{
		ID:        id,
		Filename:  filename,
		Total:     total,
		Status:    StatusUploading,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Finished reports whether the session reached a terminal state.
func (s *UploadSession) Finished() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Advance records n more bytes as persisted.
func (s *UploadSession) Advance(n int64) error {
	if s.Status != StatusUploading {
		return fmt.Errorf("advance %s session: %w", s.Status, ErrInvalidTransition)
	}
	if n < 0 || s.Received+n > s.Total {
		return fmt.Errorf("advance by %d at %d/%d: %w", n, s.Received, s.Total, ErrOverflow)
	}
	s.Received += n
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete flips the session to completed. All bytes must have been recorded.
func (s *UploadSession) Complete() error {
	if s.Status != StatusUploading {
		return fmt.Errorf("complete %s session: %w", s.Status, ErrInvalidTransition)
	}
	if s.Received != s.Total {
		return fmt.Errorf("complete at %d/%d: %w", s.Received, s.Total, ErrInvalidTransition)
	}
	s.Status = StatusCompleted
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail moves an in-flight session to the failed state.
func (s *UploadSession) Fail(msg string) error {
	if s.Status != StatusUploading {
		return fmt.Errorf("fail %s session: %w", s.Status, ErrInvalidTransition)
	}
	s.Status = StatusFailed
	s.Error = msg
	s.UpdatedAt = time.Now().UTC()
	return nil
}
