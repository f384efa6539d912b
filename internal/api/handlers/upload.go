package handlers

import (
	"context"
	"fmt"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/transcribe-hub/backend/internal/access"
	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/db/models"
	"github.com/transcribe-hub/backend/internal/fetch"
	"github.com/transcribe-hub/backend/internal/job"
	"github.com/transcribe-hub/backend/internal/storage"
)

type UploadHandler struct {
	db           *db.Database
	store        *storage.Store
	pool         *job.Pool
	maxSize      int64
	defaultModel string
}

func NewUploadHandler(database *db.Database, store *storage.Store, pool *job.Pool, maxSize int64, defaultModel string) *UploadHandler {
	return &UploadHandler{
		db:           database,
		store:        store,
		pool:         pool,
		maxSize:      maxSize,
		defaultModel: defaultModel,
	}
}

// uploadOptions are the per-request submission options shared by every file
// in one upload batch.
type uploadOptions struct {
	model              string
	selectedLanguage   string
	phraseHash         string
	signature          string
	userUUID           string
	extractScreenshots bool
}

type uploadedItem struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	PublicToken string `json:"public_token"`
	Status      string `json:"status"`
}

type uploadResponse struct {
	Session string         `json:"upload_session"`
	Items   []uploadedItem `json:"items"`
	Errors  []string       `json:"errors,omitempty"`
}

// Upload accepts one or more media files (multipart `files` parts) and/or a
// remote `url`, creates a transcription record per input, and queues each for
// processing. All inputs in one request share an upload session.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	opts := h.parseOptions(r)

	var files []*multipart.FileHeader
	files = append(files, r.MultipartForm.File["files"]...)
	// single-file clients use the `file` field
	files = append(files, r.MultipartForm.File["file"]...)
	sourceURL := strings.TrimSpace(r.FormValue("url"))

	if len(files) == 0 && sourceURL == "" {
		jsonError(w, "no files or url provided", http.StatusBadRequest)
		return
	}

	session := uuid.New().String()
	resp := uploadResponse{Session: session, Items: []uploadedItem{}}

	for _, fh := range files {
		item, err := h.ingestFile(r, fh, session, opts)
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		resp.Items = append(resp.Items, *item)
	}

	if sourceURL != "" {
		item, err := h.ingestURL(r.Context(), r, sourceURL, session, opts)
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", sourceURL, err))
		} else {
			resp.Items = append(resp.Items, *item)
		}
	}

	if len(resp.Items) == 0 {
		jsonError(w, "all uploads failed: "+strings.Join(resp.Errors, "; "), http.StatusBadRequest)
		return
	}

	jsonResponse(w, resp, http.StatusCreated)
}

func (h *UploadHandler) parseOptions(r *http.Request) uploadOptions {
	opts := uploadOptions{
		model:              r.FormValue("whisper_model"),
		selectedLanguage:   strings.TrimSpace(r.FormValue("language")),
		signature:          strings.TrimSpace(r.FormValue("signature")),
		userUUID:           strings.TrimSpace(r.FormValue("user_uuid")),
		extractScreenshots: r.FormValue("extract_screenshots") == "true",
	}
	if !models.IsValidModel(opts.model) {
		opts.model = h.defaultModel
	}
	if phrase := r.FormValue("password_phrase"); phrase != "" {
		opts.phraseHash = access.HashPhrase(phrase)
	}
	return opts
}

// clientIP returns the submitter's bare address. RealIP middleware rewrites
// RemoteAddr to the forwarded IP without a port; direct connections carry
// ip:port, so strip the port when present.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *UploadHandler) ingestFile(r *http.Request, fh *multipart.FileHeader, session string, opts uploadOptions) (*uploadedItem, error) {
	if fh.Size == 0 {
		return nil, fmt.Errorf("file is empty")
	}
	if fh.Size > h.maxSize {
		return nil, fmt.Errorf("file exceeds maximum size of %d bytes", h.maxSize)
	}

	src, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	defer src.Close()

	path, size, err := h.store.SaveOriginal(fh.Filename, src)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	return h.createAndQueue(r, fh.Filename, path, size, session, opts)
}

func (h *UploadHandler) ingestURL(ctx context.Context, r *http.Request, rawURL, session string, opts uploadOptions) (*uploadedItem, error) {
	tmpPath, filename, _, err := fetch.Download(ctx, rawURL, h.maxSize)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmpPath)

	src, err := os.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	defer src.Close()

	path, size, err := h.store.SaveOriginal(filename, src)
	if err != nil {
		return nil, fmt.Errorf("failed to store download: %w", err)
	}
	if size == 0 {
		h.store.RemoveOriginal(path)
		return nil, fmt.Errorf("downloaded file is empty")
	}

	return h.createAndQueue(r, filename, path, size, session, opts)
}

func (h *UploadHandler) createAndQueue(r *http.Request, filename, path string, size int64, session string, opts uploadOptions) (*uploadedItem, error) {
	t := &models.Transcription{
		Filename:           filename,
		FileSize:           size,
		IPAddress:          clientIP(r),
		UserUUID:           opts.userUUID,
		Signature:          opts.signature,
		PasswordPhraseHash: opts.phraseHash,
		PublicToken:        access.NewPublicToken(),
		OriginalPath:       path,
		WhisperModel:       opts.model,
		ExtractScreenshots: opts.extractScreenshots,
		SelectedLanguage:   opts.selectedLanguage,
		Status:             models.StatusPending,
		UploadSession:      session,
	}

	id, err := h.db.CreateTranscription(t)
	if err != nil {
		h.store.RemoveOriginal(path)
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	log.Printf("[upload] queued %s (id=%d, %d bytes, model=%s)", filename, id, size, opts.model)
	h.pool.Submit(id)

	return &uploadedItem{
		ID:          id,
		Filename:    filename,
		PublicToken: t.PublicToken,
		Status:      models.StatusPending,
	}, nil
}
