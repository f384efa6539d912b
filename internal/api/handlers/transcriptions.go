package handlers

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/transcribe-hub/backend/internal/access"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/db/models"
	"github.com/transcribe-hub/backend/internal/job"
	"github.com/transcribe-hub/backend/internal/pipeline"
)

type TranscriptionHandler struct {
	db   *db.Database
	orch *pipeline.Orchestrator
	pool *job.Pool
}

func NewTranscriptionHandler(database *db.Database, orch *pipeline.Orchestrator, pool *job.Pool) *TranscriptionHandler {
	return &TranscriptionHandler{db: database, orch: orch, pool: pool}
}

// statusPayload is the public view of a transcription. Transcript text only
// appears once the job completes, error details only when it failed.
type statusPayload struct {
	ID                 int64   `json:"id"`
	Filename           string  `json:"filename"`
	FileSize           int64   `json:"file_size"`
	Status             string  `json:"status"`
	WhisperModel       string  `json:"whisper_model"`
	PublicToken        string  `json:"public_token,omitempty"`
	ShareToken         string  `json:"share_token,omitempty"`
	HasPassword        bool    `json:"has_password"`
	DetectedLanguage   string  `json:"detected_language,omitempty"`
	SelectedLanguage   string  `json:"selected_language,omitempty"`
	NeedsConfirmation  bool    `json:"needs_language_confirmation"`
	TranscribedText    string  `json:"transcribed_text,omitempty"`
	ErrorMessage       string  `json:"error_message,omitempty"`
	ExtractScreenshots bool    `json:"extract_screenshots"`
	ScreenshotCount    int     `json:"screenshot_count"`
	UploadSession      string  `json:"upload_session,omitempty"`
	Signature          string  `json:"signature,omitempty"`
	UploadedAt         string  `json:"uploaded_at"`
	CompletedAt        *string `json:"completed_at,omitempty"`
}

func (h *TranscriptionHandler) payload(t *models.Transcription) *statusPayload {
	p := &statusPayload{
		ID:                 t.ID,
		Filename:           t.Filename,
		FileSize:           t.FileSize,
		Status:             t.Status,
		WhisperModel:       t.WhisperModel,
		PublicToken:        t.PublicToken,
		HasPassword:        t.HasPassword(),
		DetectedLanguage:   t.DetectedLanguage,
		SelectedLanguage:   t.SelectedLanguage,
		NeedsConfirmation:  t.NeedsLanguageConfirmation(),
		ExtractScreenshots: t.ExtractScreenshots,
		UploadSession:      t.UploadSession,
		Signature:          t.Signature,
		UploadedAt:         t.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if t.Status == models.StatusCompleted {
		p.TranscribedText = t.TranscribedText
	}
	if t.Status == models.StatusError {
		p.ErrorMessage = t.ErrorMessage
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		p.CompletedAt = &s
	}
	if t.HasPassword() {
		p.ShareToken = access.ShareToken(t.PublicToken, t.PasswordPhraseHash)
	}
	if n, err := h.db.CountScreenshots(t.ID); err == nil {
		p.ScreenshotCount = n
	}
	return p
}

// fetch loads a transcription by URL id and enforces the access phrase gate.
// On failure it writes the response itself and returns nil.
func (h *TranscriptionHandler) fetch(w http.ResponseWriter, r *http.Request) *models.Transcription {
	id, err := idParam(r)
	if err != nil {
		jsonError(w, "invalid transcription ID", http.StatusBadRequest)
		return nil
	}
	t, err := h.db.GetTranscription(id)
	if err != nil {
		jsonError(w, "transcription not found", http.StatusNotFound)
		return nil
	}
	if d := access.CheckPhrase(t, phraseFromRequest(r)); !d.Allowed {
		jsonError(w, d.Reason, http.StatusForbidden)
		return nil
	}
	// records created before tokens were issued at upload get one lazily
	if t.PublicToken == "" {
		if tok, err := h.db.EnsurePublicToken(t.ID, access.NewPublicToken()); err == nil {
			t.PublicToken = tok
		}
	}
	return t
}

// Get returns the status and, once complete, the transcript of one job.
func (h *TranscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}
	jsonResponse(w, h.payload(t), http.StatusOK)
}

// List returns recent transcriptions. With ?phrase= it lists records protected
// by that phrase, otherwise unprotected records only.
func (h *TranscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	const limit = 100

	var (
		records []*models.Transcription
		err     error
	)
	if phrase := phraseFromRequest(r); phrase != "" {
		records, err = h.db.ListByPasswordHash(access.HashPhrase(phrase), limit)
	} else {
		records, err = h.db.ListPublic(limit)
	}
	if err != nil {
		jsonError(w, "failed to list transcriptions", http.StatusInternalServerError)
		return
	}

	out := make([]*statusPayload, 0, len(records))
	for _, t := range records {
		out = append(out, h.payload(t))
	}
	jsonResponse(w, out, http.StatusOK)
}

type confirmLanguageRequest struct {
	Mode     string `json:"mode"`
	Language string `json:"language"`
}

// ConfirmLanguage resumes a job parked for language confirmation. Mode
// "specific" pins the given language, "auto" lets the engine decide again.
func (h *TranscriptionHandler) ConfirmLanguage(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}

	var req confirmLanguageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = pipeline.ConfirmSpecific
	}
	if req.Mode == pipeline.ConfirmSpecific && req.Language == "" {
		// keep the detected language when the caller just hit confirm
		req.Language = t.DetectedLanguage
	}

	if err := h.orch.ConfirmLanguage(t.ID, req.Mode, req.Language); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrJobProcessing):
			jsonError(w, "transcription is currently processing", http.StatusConflict)
		case errors.Is(err, pipeline.ErrNotAwaitingConfirmation):
			jsonError(w, "transcription is not awaiting language confirmation", http.StatusConflict)
		case errors.Is(err, pipeline.ErrOriginalMissing):
			jsonError(w, "original media no longer available", http.StatusNotFound)
		default:
			jsonError(w, "failed to confirm language: "+err.Error(), http.StatusBadRequest)
		}
		return
	}

	h.pool.Submit(t.ID)
	jsonResponse(w, map[string]string{"status": models.StatusPending}, http.StatusOK)
}

type retranscribeRequest struct {
	Model string `json:"model"`
}

// Retranscribe resets a finished or failed job and runs it again, optionally
// with a different model size.
func (h *TranscriptionHandler) Retranscribe(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}

	var req retranscribeRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	model := req.Model
	if model == "" {
		model = t.WhisperModel
	}
	if !models.IsValidModel(model) {
		jsonError(w, "unknown whisper model: "+model, http.StatusBadRequest)
		return
	}

	if err := h.orch.Retranscribe(t.ID, model); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrJobProcessing):
			jsonError(w, "transcription is currently processing", http.StatusConflict)
		case errors.Is(err, pipeline.ErrOriginalMissing):
			jsonError(w, "original media no longer available", http.StatusNotFound)
		default:
			jsonError(w, "failed to retranscribe: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.pool.Submit(t.ID)
	jsonResponse(w, map[string]string{"status": models.StatusPending}, http.StatusOK)
}

// DownloadText serves the transcript as a plain-text attachment.
func (h *TranscriptionHandler) DownloadText(w http.ResponseWriter, r *http.Request) {
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

// DownloadScreenshots streams all kept slide frames as a zip archive.
func (h *TranscriptionHandler) DownloadScreenshots(w http.ResponseWriter, r *http.Request) {
	t := h.fetch(w, r)
	if t == nil {
		return
	}
	writeScreenshotZip(w, h.db, t)
}

// writeScreenshotZip serves a record's kept slide frames as one zip
// attachment. Shared by the owner and share-link download routes.
func writeScreenshotZip(w http.ResponseWriter, database *db.Database, t *models.Transcription) {
	shots, err := database.ListScreenshots(t.ID)
	if err != nil {
		jsonError(w, "failed to list screenshots", http.StatusInternalServerError)
		return
	}
	if len(shots) == 0 {
		jsonError(w, "no screenshots available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", t.Filename+"_screenshots.zip"))

	zw := zip.NewWriter(w)
	defer zw.Close()
	for _, s := range shots {
		f, err := os.Open(s.ImagePath)
		if err != nil {
			continue
		}
		name := fmt.Sprintf("screenshot_%04d_%.0fs.jpg", s.Ordinal, s.Timestamp)
		entry, err := zw.Create(name)
		if err != nil {
			f.Close()
			return
		}
		io.Copy(entry, f)
		f.Close()
	}
}
