package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/transcribe-hub/backend/internal/api/handlers"
	"github.com/transcribe-hub/backend/internal/api/middleware"
	"github.com/transcribe-hub/backend/internal/auth"
	"github.com/transcribe-hub/backend/internal/config"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/job"
	"github.com/transcribe-hub/backend/internal/pipeline"
	"github.com/transcribe-hub/backend/internal/storage"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	DB      *db.Database
	Store   *storage.Store
	Orch    *pipeline.Orchestrator
	Pool    *job.Pool
	JWT     *auth.JWTService
	Whisper handlers.Pinger
	Config  *config.Config
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(middleware.CORSHandler(d.Config.CORSOrigins)))

	// Handlers
	authHandler := handlers.NewAuthHandler(d.DB, d.JWT)
	uploadHandler := handlers.NewUploadHandler(d.DB, d.Store, d.Pool, d.Config.MaxUploadSize, d.Config.DefaultModel)
	trHandler := handlers.NewTranscriptionHandler(d.DB, d.Orch, d.Pool)
	publicHandler := handlers.NewPublicHandler(d.DB, trHandler)
	sessionHandler := handlers.NewSessionHandler(d.DB, trHandler)
	adminHandler := handlers.NewAdminHandler(d.DB, d.Store)
	healthHandler := handlers.NewHealthHandler(d.Store, d.Pool, d.Whisper)

	uploadLimiter := middleware.NewRateLimiter(30, time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Post("/auth/login", authHandler.Login)

		// Upload (rate limited, body capped slightly above the file limit
		// to leave room for the multipart framing)
		r.Group(func(r chi.Router) {
			r.Use(uploadLimiter.Handler)
			r.Use(middleware.MaxBodySize(d.Config.MaxUploadSize + 1<<20))
			r.Post("/upload", uploadHandler.Upload)
		})

		// Transcriptions
		r.Get("/transcriptions", trHandler.List)
		r.Get("/transcriptions/{id}", trHandler.Get)
		r.Post("/transcriptions/{id}/confirm-language", trHandler.ConfirmLanguage)
		r.Post("/transcriptions/{id}/retranscribe", trHandler.Retranscribe)
		r.Get("/transcriptions/{id}/download/text", trHandler.DownloadText)
		r.Get("/transcriptions/{id}/download/screenshots", trHandler.DownloadScreenshots)

		// Share links
		r.Get("/public/{token}", publicHandler.Get)
		r.Get("/public/{token}/download/text", publicHandler.DownloadText)
		r.Get("/public/{token}/download/screenshots", publicHandler.DownloadScreenshots)

		// Upload sessions
		r.Get("/sessions/{session}", sessionHandler.List)
		r.Get("/sessions/{session}/text", sessionHandler.DownloadText)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.JWT))
			r.Use(middleware.RequireRole("admin"))
			r.Post("/admin/clear", adminHandler.Clear)
		})
	})

	return r
}
