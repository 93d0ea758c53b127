// Package server wires HTTP routes to the session store, the chunked
// persister and the listing renderer.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"

	"github.com/dharsanguruparan/ProgressDrop/internal/config"
	"github.com/dharsanguruparan/ProgressDrop/internal/listing"
	"github.com/dharsanguruparan/ProgressDrop/internal/model"
	"github.com/dharsanguruparan/ProgressDrop/internal/persist"
	"github.com/dharsanguruparan/ProgressDrop/internal/queue"
	"github.com/dharsanguruparan/ProgressDrop/internal/storage"
)

// SessionHeader lets a client choose the session id up front so it can
// poll /progress while its own upload request is still running.
const SessionHeader = "X-Upload-Session"

var errBadFilename = errors.New("invalid filename")

// Server hosts the HTTP handlers.
type Server struct {
	cfg       *config.Config
	store     storage.SessionStore
	persister *persist.Persister
	listing   *listing.Renderer
	notifier  queue.Notifier
	uploads   *semaphore.Weighted
	limiter   *ipLimiter
	newID     func() string
}

// New creates a configured server and the upload directory. notifier may be
// nil when completed uploads are not announced.
func New(cfg *config.Config, store storage.SessionStore, notifier queue.Notifier) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	persister := persist.New(store, cfg.UploadDir, cfg.ChunkSize, cfg.ChunkDelay)
	if err := persister.Prepare(); err != nil {
		return nil, err
	}
	renderer, err := listing.New(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		persister: persister,
		listing:   renderer,
		notifier:  notifier,
		uploads:   semaphore.NewWeighted(cfg.MaxConcurrentUploads),
		limiter:   newIPLimiter(cfg.UploadRPS, cfg.UploadBurst),
		newID:     uuid.NewString,
	}, nil
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/upload", s.limitMiddleware(http.HandlerFunc(s.handleUpload))).Methods(http.MethodPost)
	r.HandleFunc("/progress/{sessionId}", s.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/uploads/{filename}", s.handleDownload).Methods(http.MethodGet)
	return loggingMiddleware(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.listing.Render(&buf); err != nil {
		log.Printf("render listing: %v", err)
		http.Error(w, "failed to list uploads", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

type uploadResponse struct {
	Success   bool   `json:"success"`
	Filename  string `json:"filename"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.sessionID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.uploads.TryAcquire(1) {
		http.Error(w, "too many concurrent uploads", http.StatusTooManyRequests)
		return
	}
	defer s.uploads.Release(1)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	// ParseMultipartForm receives the whole body before we look at it:
	// up to MemoryBuffer in RAM and the rest in temp files.
	if err := r.ParseMultipartForm(s.cfg.MemoryBuffer); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload exceeds limit", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file part", http.StatusBadRequest)
		return
	}
	defer file.Close()
	filename, err := sanitizeFilename(header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.Create(ctx, model.NewUploadSession(id, filename, header.Size)); err != nil {
		if errors.Is(err, storage.ErrExists) {
			http.Error(w, "session already exists", http.StatusConflict)
			return
		}
		log.Printf("create session %s: %v", id, err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	finalPath, err := s.persister.Persist(ctx, id, filename, file)
	if err != nil {
		log.Printf("persist upload %s: %v", id, err)
		http.Error(w, "failed to save file", http.StatusInternalServerError)
		return
	}
	s.announce(ctx, queue.UploadCompletedPayload{
		SessionID:   id,
		FileName:    filename,
		Path:        finalPath,
		Size:        header.Size,
		CompletedAt: time.Now().UTC(),
	})
	respondJSON(w, http.StatusOK, uploadResponse{
		Success:   true,
		Filename:  filename,
		SessionID: id,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["sessionId"]
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		log.Printf("get session %s: %v", id, err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if clean, err := sanitizeFilename(name); err != nil || clean != name {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(filepath.Join(s.persister.Dir(), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.NotFound(w, r)
		} else {
			http.Error(w, "file unavailable", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// announce is best effort: the upload already succeeded from the client's
// point of view.
func (s *Server) announce(ctx context.Context, payload queue.UploadCompletedPayload) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.UploadCompleted(ctx, payload); err != nil {
		log.Printf("announce upload %s: %v", payload.SessionID, err)
	}
}

func (s *Server) sessionID(r *http.Request) (string, error) {
	proposed := r.Header.Get(SessionHeader)
	if proposed == "" {
		return s.newID(), nil
	}
	parsed, err := uuid.Parse(proposed)
	if err != nil {
		return "", fmt.Errorf("invalid %s header: %w", SessionHeader, err)
	}
	return parsed.String(), nil
}

// sanitizeFilename strips directory components, whichever separator the
// client used. The staging directory name is reserved.
func sanitizeFilename(raw string) (string, error) {
	name := path.Base(strings.ReplaceAll(raw, `\`, "/"))
	if name == "." || name == "/" || name == ".." || name == persist.StagingDir {
		return "", fmt.Errorf("%w: %q", errBadFilename, raw)
	}
	return name, nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
