// Package main starts the ProgressDrop HTTP server. Every Go executable lives
// in package main and begins at func main.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ProgressDrop/internal/config"
	"github.com/dharsanguruparan/ProgressDrop/internal/queue"
	"github.com/dharsanguruparan/ProgressDrop/internal/server"
	"github.com/dharsanguruparan/ProgressDrop/internal/storage"
)

const sweepInterval = time.Minute

func main() {
	// Step 1: configuration comes from PROGRESSDROP_* environment variables.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	// Step 2: the context is cancelled on SIGINT/SIGTERM, which is what
	// triggers graceful shutdown further down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 3: build the dependencies and hand them to server.New.
	store, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	defer closeStore()

	var notifier queue.Notifier
	if cfg.QueueEnabled() {
		client := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		notifier = queue.NewPublisher(client)
	}

	srv, err := server.New(cfg, store, notifier)
	if err != nil {
		log.Fatalf("init server: %v", err)
	}
	// Step 4: block until the HTTP server exits.
	log.Printf("ProgressDrop listening on %s (uploads in %s, %s sessions)", cfg.Address, cfg.UploadDir, cfg.SessionBackend)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("server stopped: %v", err)
		os.Exit(1)
	}
}

func openSessionStore(ctx context.Context, cfg *config.Config) (storage.SessionStore, func(), error) {
	if cfg.SessionBackend == config.BackendRedis {
		client, err := storage.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(client, cfg.SessionTTL), func() { _ = client.Close() }, nil
	}
	store := storage.NewMemoryStore(cfg.SessionTTL, cfg.MaxSessions)
	// The sweeper goroutine stops by itself once ctx is cancelled.
	go store.Sweep(ctx, sweepInterval)
	return store, func() {}, nil
}
