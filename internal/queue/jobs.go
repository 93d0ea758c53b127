package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// UploadCompletedTask is scheduled each time an upload is persisted.
	UploadCompletedTask = "upload:completed"
)

// UploadCompletedPayload tells the worker which file on the shared upload
// directory to catalogue and mirror.
type UploadCompletedPayload struct {
	SessionID   string    `json:"session_id"`
	FileName    string    `json:"file_name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	CompletedAt time.Time `json:"completed_at"`
}

// Notifier announces completed uploads.
type Notifier interface {
	UploadCompleted(ctx context.Context, payload UploadCompletedPayload) error
}

// NewUploadCompletedTask encodes the payload into an asynq task.
func NewUploadCompletedTask(payload UploadCompletedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(UploadCompletedTask, data), nil
}

// Publisher enqueues tasks through an asynq client.
type Publisher struct {
	client *asynq.Client
}

// NewPublisher wraps an asynq client.
func NewPublisher(client *asynq.Client) *Publisher {
	return &Publisher{client: client}
}

// UploadCompleted enqueues an UploadCompletedTask.
func (p *Publisher) UploadCompleted(ctx context.Context, payload UploadCompletedPayload) error {
	task, err := NewUploadCompletedTask(payload)
	if err != nil {
		return err
	}
	if _, err := p.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue upload completed task: %w", err)
	}
	return nil
}
