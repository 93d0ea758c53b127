// Package persist writes materialized uploads to disk in fixed-size
// increments and records progress on the upload session after each one.
package persist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
	"github.com/dharsanguruparan/ProgressDrop/internal/storage"
)

// ErrIO marks failures while persisting an upload. The session is left in
// the failed state whenever Persist returns it.
var ErrIO = errors.New("persist upload")

// StagingDir is the subdirectory of the upload directory that holds
// in-flight temp files. Renames out of it stay on one filesystem.
const StagingDir = ".progressdrop-tmp"

// failTimeout bounds the store write that records a failure; the request
// context may already be gone by then.
const failTimeout = 5 * time.Second

// Persister owns the destination directory and the write loop.
type Persister struct {
	store     storage.SessionStore
	dir       string
	chunkSize int
	delay     time.Duration
}

// New builds a Persister. delay is the pause after each increment that lets
// pollers observe intermediate progress; zero disables it.
func New(store storage.SessionStore, dir string, chunkSize int, delay time.Duration) *Persister {
	if chunkSize <= 0 {
		chunkSize = 64 << 10
	}
	return &Persister{
		store:     store,
		dir:       dir,
		chunkSize: chunkSize,
		delay:     delay,
	}
}

// Dir returns the destination directory.
func (p *Persister) Dir() string {
	return p.dir
}

// Prepare creates the staging directory. The upload directory itself must
// already exist.
func (p *Persister) Prepare() error {
	err := os.Mkdir(filepath.Join(p.dir, StagingDir), 0o750)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create staging dir: %w", err)
	}
	return nil
}

// Persist copies src into dir/filename for session id and returns the final
// path. The bytes land in a private temp file first and are renamed over the
// destination once complete, so concurrent uploads of one name never
// interleave; the last rename wins.
func (p *Persister) Persist(ctx context.Context, id, filename string, src io.Reader) (string, error) {
	sess, err := p.store.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", id, err)
	}
	finalPath := filepath.Join(p.dir, filename)
	if err := p.Prepare(); err != nil {
		return "", p.fail(ctx, id, err)
	}
	tmpPath := filepath.Join(p.dir, StagingDir, id+".part")

	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", p.fail(ctx, id, fmt.Errorf("create temp file: %w", err))
	}
	written, err := p.copyChunks(ctx, id, dst, src)
	if err == nil && written != sess.Total {
		err = fmt.Errorf("short upload: wrote %d of %d bytes", written, sess.Total)
	}
	if err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err == nil {
		err = os.Rename(tmpPath, finalPath)
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", p.fail(ctx, id, err)
	}
	if err := p.store.Update(ctx, id, func(s *model.UploadSession) error { return s.Complete() }); err != nil {
		return "", p.fail(ctx, id, fmt.Errorf("mark completed: %w", err))
	}
	log.Printf("upload %s persisted to %s (%d bytes)", id, finalPath, written)
	return finalPath, nil
}

func (p *Persister) copyChunks(ctx context.Context, id string, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, p.chunkSize)
	var written int64
	for {
		// ReadFull keeps increments at chunkSize except for the tail.
		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write chunk: %w", err)
			}
			written += int64(n)
			err := p.store.Update(ctx, id, func(s *model.UploadSession) error {
				return s.Advance(int64(n))
			})
			if err != nil {
				return written, fmt.Errorf("record progress: %w", err)
			}
			if err := p.pause(ctx); err != nil {
				return written, err
			}
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read upload: %w", readErr)
		}
	}
}

func (p *Persister) pause(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("upload interrupted: %w", ctx.Err())
	case <-time.After(p.delay):
		return nil
	}
}

func (p *Persister) fail(ctx context.Context, id string, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()
	err := p.store.Update(failCtx, id, func(s *model.UploadSession) error {
		return s.Fail(cause.Error())
	})
	if err != nil {
		log.Printf("mark upload %s failed: %v", id, err)
	}
	log.Printf("upload %s failed: %v", id, cause)
	return fmt.Errorf("%w: %w", ErrIO, cause)
}
