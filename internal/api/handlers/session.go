package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/transcribe-hub/backend/internal/access"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/db/models"
)

type SessionHandler struct {
	db    *db.Database
	inner *TranscriptionHandler
}

func NewSessionHandler(database *db.Database, inner *TranscriptionHandler) *SessionHandler {
	return &SessionHandler{db: database, inner: inner}
}

// DownloadText concatenates the transcripts of every completed file in an
// upload session into one text attachment, each section headed by the
// original filename. Protected records require the matching access phrase.
func (h *SessionHandler) DownloadText(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	if session == "" {
		jsonError(w, "missing session", http.StatusBadRequest)
		return
	}

	records, err := h.db.ListBySession(session)
	if err != nil {
		jsonError(w, "failed to list session", http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	phrase := phraseFromRequest(r)
	for _, t := range records {
		if d := access.CheckPhrase(t, phrase); !d.Allowed {
			jsonError(w, d.Reason, http.StatusForbidden)
			return
		}
	}

	var b strings.Builder
	for _, t := range records {
		if t.Status != models.StatusCompleted {
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n\n", t.Filename)
		b.WriteString(t.TranscribedText)
		b.WriteString("\n\n")
	}
	if b.Len() == 0 {
		jsonError(w, "no completed transcriptions in session", http.StatusConflict)
		return
	}

	short := session
	if len(short) > 8 {
		short = short[:8]
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "session_"+short+"_all_transcriptions.txt"))
	w.Write([]byte(b.String()))
}

// List returns the status of every file in an upload session, oldest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "session")
	if session == "" {
		jsonError(w, "missing session", http.StatusBadRequest)
		return
	}

	records, err := h.db.ListBySession(session)
	if err != nil {
		jsonError(w, "failed to list session", http.StatusInternalServerError)
		return
	}
	if len(records) == 0 {
		jsonError(w, "session not found", http.StatusNotFound)
		return
	}

	phrase := phraseFromRequest(r)
	out := make([]*statusPayload, 0, len(records))
	for _, t := range records {
		if d := access.CheckPhrase(t, phrase); !d.Allowed {
			jsonError(w, d.Reason, http.StatusForbidden)
			return
		}
		out = append(out, h.inner.payload(t))
	}
	jsonResponse(w, out, http.StatusOK)
}
