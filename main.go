package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/transcribe-hub/backend/internal/api"
	"github.com/transcribe-hub/backend/internal/auth"
	"github.com/transcribe-hub/backend/internal/config"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/job"
	"github.com/transcribe-hub/backend/internal/pipeline"
	"github.com/transcribe-hub/backend/internal/storage"
	"github.com/transcribe-hub/backend/internal/whisper"
)

func main() {
	cfg := config.Load()

	// Ensure data directories exist
	os.MkdirAll(cfg.DataPath, 0755)

	// Initialize database
	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// Ensure admin user exists
	if err := database.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatalf("Failed to create admin user: %v", err)
	}
	log.Printf("Admin user ensured: %s", cfg.AdminUsername)

	// File storage
	store, err := storage.NewStore(cfg.UploadPath, cfg.ScreenshotPath)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Whisper engines, cached per model size
	engines := whisper.NewModelCache(whisper.HTTPFactory(cfg.WhisperURL))
	pingClient := whisper.NewClient(cfg.WhisperURL, cfg.DefaultModel)
	if err := pingClient.Ping(context.Background()); err != nil {
		log.Printf("[whisper] service at %s not reachable yet: %v", cfg.WhisperURL, err)
	}

	// Processing pipeline and worker pool
	orch := pipeline.NewOrchestrator(database, store, pipeline.FFmpegTools{}, engines, cfg.DefaultLanguage, cfg.RetainOriginals)
	pool := job.NewPool(orch, cfg.Workers)

	// Re-queue jobs that were pending when the server last stopped
	if ids, err := database.ListPendingIDs(); err != nil {
		log.Printf("[job] failed to list pending jobs: %v", err)
	} else if len(ids) > 0 {
		log.Printf("[job] resuming %d pending jobs", len(ids))
		pool.Resume(ids)
	}

	// JWT service
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Router
	router := api.NewRouter(api.Deps{
		DB:      database,
		Store:   store,
		Orch:    orch,
		Pool:    pool,
		JWT:     jwtService,
		Whisper: pingClient,
		Config:  cfg,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: router}

	log.Printf("Starting server on %s", addr)
	log.Printf("Upload path: %s", cfg.UploadPath)
	log.Printf("Whisper service: %s", cfg.WhisperURL)

	// Graceful shutdown: stop accepting requests, then drain the worker pool
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
		pool.Stop()
		os.Exit(0)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
