package handlers

import (
	"log"
	"net/http"

	"github.com/transcribe-hub/backend/internal/api/middleware"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/storage"
)

type AdminHandler struct {
	db    *db.Database
	store *storage.Store
}

func NewAdminHandler(database *db.Database, store *storage.Store) *AdminHandler {
	return &AdminHandler{db: database, store: store}
}

// Clear deletes every transcription record along with all stored originals
// and screenshots. Admin only.
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)

	count, imagePaths, err := h.db.ClearAll()
	if err != nil {
		jsonError(w, "failed to clear transcriptions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.store.RemoveScreenshots(imagePaths)
	if err := h.store.Reset(); err != nil {
		log.Printf("[admin] storage reset after clear: %v", err)
	}

	log.Printf("[admin] %s cleared %d transcriptions", claims.Username, count)
	jsonResponse(w, map[string]interface{}{
		"cleared": count,
	}, http.StatusOK)
}
