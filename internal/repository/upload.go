package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no catalogue row matches.
var ErrNotFound = errors.New("upload not found")

// Upload represents a row in the uploads table.
type Upload struct {
	SessionID   string    `json:"sessionId"`
	FileName    string    `json:"fileName"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	ObjectKey   *string   `json:"objectKey,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// UploadRepository wraps the SQL used by the worker.
type UploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository constructs a repository.
func NewUploadRepository(pool *pgxpool.Pool) *UploadRepository {
	return &UploadRepository{pool: pool}
}

// Record upserts the catalogue row for a completed upload. asynq may
// deliver a task more than once, so a replay simply rewrites the row.
func (r *UploadRepository) Record(ctx context.Context, u *Upload) error {
	u.RecordedAt = time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO uploads (session_id, file_name, size_bytes, content_type, object_key, completed_at, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (session_id) DO UPDATE
		SET file_name = EXCLUDED.file_name,
			size_bytes = EXCLUDED.size_bytes,
			content_type = EXCLUDED.content_type,
			object_key = COALESCE(EXCLUDED.object_key, uploads.object_key),
			completed_at = EXCLUDED.completed_at,
			recorded_at = EXCLUDED.recorded_at
	`, u.SessionID, u.FileName, u.Size, u.ContentType, u.ObjectKey, u.CompletedAt, u.RecordedAt)
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// Get returns the catalogue row for a session.
func (r *UploadRepository) Get(ctx context.Context, sessionID string) (*Upload, error) {
	var (
		u         Upload
		objectKey sql.NullString
	)
	row := r.pool.QueryRow(ctx, `
		SELECT session_id, file_name, size_bytes, content_type, object_key, completed_at, recorded_at
		FROM uploads WHERE session_id=$1
	`, sessionID)
	if err := row.Scan(&u.SessionID, &u.FileName, &u.Size, &u.ContentType, &objectKey, &u.CompletedAt, &u.RecordedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select upload: %w", err)
	}
	if objectKey.Valid {
		key := objectKey.String
		u.ObjectKey = &key
	}
	return &u, nil
}
