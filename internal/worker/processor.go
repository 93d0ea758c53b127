package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ProgressDrop/internal/queue"
	"github.com/dharsanguruparan/ProgressDrop/internal/repository"
)

// Catalog persists upload metadata.
type Catalog interface {
	Get(ctx context.Context, sessionID string) (*repository.Upload, error)
	Record(ctx context.Context, u *repository.Upload) error
}

// Mirror copies persisted files to object storage.
type Mirror interface {
	Mirror(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	catalog Catalog
	mirror  Mirror
}

// NewProcessor constructs a worker processor. mirror may be nil, in which
// case uploads are only catalogued.
func NewProcessor(catalog Catalog, mirror Mirror) *Processor {
	return &Processor{catalog: catalog, mirror: mirror}
}

// Handler registers the upload completed handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.UploadCompletedTask, p.handleUploadCompleted)
	return mux
}

func (p *Processor) handleUploadCompleted(ctx context.Context, task *asynq.Task) error {
	var payload queue.UploadCompletedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that never decodes will not decode on retry either.
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	f, err := os.Open(payload.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("upload %s: %s vanished before cataloguing", payload.SessionID, payload.Path)
			return fmt.Errorf("open %s: %v: %w", payload.Path, err, asynq.SkipRetry)
		}
		return fmt.Errorf("open %s: %w", payload.Path, err)
	}
	defer f.Close()

	contentType, err := sniffContentType(f)
	if err != nil {
		return err
	}
	upload := &repository.Upload{
		SessionID:   payload.SessionID,
		FileName:    payload.FileName,
		Size:        payload.Size,
		ContentType: contentType,
		CompletedAt: payload.CompletedAt,
	}
	if p.mirror != nil {
		key, err := p.mirrorOnce(ctx, f, payload, contentType)
		if err != nil {
			return err
		}
		upload.ObjectKey = &key
	}
	if err := p.catalog.Record(ctx, upload); err != nil {
		return err
	}
	log.Printf("upload %s catalogued (%s, %d bytes)", payload.SessionID, payload.FileName, payload.Size)
	return nil
}

// mirrorOnce skips the object upload when an earlier delivery of the same
// task already recorded one.
func (p *Processor) mirrorOnce(ctx context.Context, f *os.File, payload queue.UploadCompletedPayload, contentType string) (string, error) {
	existing, err := p.catalog.Get(ctx, payload.SessionID)
	switch {
	case err == nil && existing.ObjectKey != nil:
		return *existing.ObjectKey, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return "", err
	}
	key := objectKey(payload)
	if err := p.mirror.Mirror(ctx, key, f, payload.Size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func objectKey(payload queue.UploadCompletedPayload) string {
	return fmt.Sprintf("uploads/%s/%s", payload.SessionID, payload.FileName)
}

// sniffContentType reads up to 512 bytes for http.DetectContentType and
// rewinds the file.
func sniffContentType(f *os.File) (string, error) {
	sniff := make([]byte, 512)
	n, err := io.ReadFull(f, sniff)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("sniff content type: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind file: %w", err)
	}
	return http.DetectContentType(sniff[:n]), nil
}
