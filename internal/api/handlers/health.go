package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/transcribe-hub/backend/internal/job"
	"github.com/transcribe-hub/backend/internal/storage"
)

var startTime = time.Now()

// Pinger is anything that can answer a liveness probe, in practice the
// whisper HTTP client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store   *storage.Store
	pool    *job.Pool
	whisper Pinger
}

func NewHealthHandler(store *storage.Store, pool *job.Pool, whisper Pinger) *HealthHandler {
	return &HealthHandler{store: store, pool: pool, whisper: whisper}
}

// Health reports service liveness, disk headroom, queue activity, and whether
// the transcription engine answers its health check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(startTime).Seconds()),
		"active_jobs":    h.pool.Active(),
	}

	if total, free, err := h.store.DiskUsage(); err == nil {
		resp["disk_total_bytes"] = total
		resp["disk_free_bytes"] = free
	}

	if h.whisper != nil {
		if err := h.whisper.Ping(r.Context()); err != nil {
			resp["whisper"] = "unreachable"
		} else {
			resp["whisper"] = "ok"
		}
	}

	jsonResponse(w, resp, http.StatusOK)
}
