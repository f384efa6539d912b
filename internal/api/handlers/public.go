package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/transcribe-hub/backend/internal/access"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/db/models"
)

// PublicHandler serves transcriptions through their share link: the public
// token identifies the record, and protected records additionally require the
// derived share token in the ?p= query parameter.
type PublicHandler struct {
	db    *db.Database
	inner *TranscriptionHandler
}

func NewPublicHandler(database *db.Database, inner *TranscriptionHandler) *PublicHandler {
	return &PublicHandler{db: database, inner: inner}
}

func (h *PublicHandler) fetch(w http.ResponseWriter, r *http.Request) *models.Transcription {
	token := chi.URLParam(r, "token")
	if token == "" {
		jsonError(w, "missing token", http.StatusBadRequest)
		return nil
	}
	t, err := h.db.GetByPublicToken(token)
	if err != nil {
		jsonError(w, "transcription not found", http.StatusNotFound)
		return nil
	}
	if t.HasPassword() {
		if d := access.CheckShareToken(t, r.URL.Query().Get("p")); !d.Allowed {
			jsonError(w, d.Reason, http.StatusForbidden)
			return nil
		}
	}
	return t
}

// Get returns a transcription by its public token.
func (h *PublicHandler) Get(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}
	jsonResponse(w, h.inner.payload(t), http.StatusOK)
}

// DownloadText serves the transcript of a shared record as an attachment.
func (h *PublicHandler) DownloadText(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}
	if t.Status != models.StatusCompleted {
		jsonError(w, "transcription is not completed", http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", t.Filename+"_transcription.txt"))
	io.WriteString(w, t.TranscribedText)
}

// DownloadScreenshots serves the slide-frame zip of a shared record.
func (h *PublicHandler) DownloadScreenshots(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}
	writeScreenshotZip(w, h.db, t)
}
