// Package client talks to a ProgressDrop server: it streams a file to
// /upload and polls /progress for the same session while the request runs.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

const sessionHeader = "X-Upload-Session"

// ErrNotFound is returned by Progress for unknown session ids.
var ErrNotFound = errors.New("session not found")

// UploadResult mirrors the server's upload response.
type UploadResult struct {
	Success   bool   `json:"success"`
	Filename  string `json:"filename"`
	SessionID string `json:"session_id"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	interval time.Duration
}

// New returns a client for baseURL. A nil httpClient uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client, interval time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		interval: interval,
	}
}

// Progress fetches the current state of a session.
func (c *Client) Progress(ctx context.Context, id string) (*model.UploadSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/progress/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, statusError(resp)
	}
	var sess model.UploadSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	sess.ID = id
	return &sess, nil
}

// Upload streams the file at path and reports progress to onProgress, which
// may be nil. The last report reflects the session after the server replied.
func (c *Client) Upload(ctx context.Context, path string, onProgress func(*model.UploadSession)) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	id := uuid.NewString()
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(sessionHeader, id)

	pollCtx, stopPolling := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if onProgress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.poll(pollCtx, id, onProgress)
		}()
	}
	resp, err := c.http.Do(req)
	stopPolling()
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if onProgress != nil {
		if sess, err := c.Progress(ctx, id); err == nil {
			onProgress(sess)
		}
	}
	return &result, nil
}

func (c *Client) poll(ctx context.Context, id string, onProgress func(*model.UploadSession)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		sess, err := c.Progress(ctx, id)
		if err != nil {
			// 404 until the server has received the whole body.
			continue
		}
		onProgress(sess)
		if sess.Finished() {
			return
		}
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}
