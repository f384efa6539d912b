package models

import "time"

// Status values for a transcription job.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// WhisperModels is the fixed set of selectable model sizes.
var WhisperModels = []string{"tiny", "base", "small", "medium", "large-v2", "large-v3"}

// IsValidModel reports whether name is one of the selectable model sizes.
func IsValidModel(name string) bool {
	for _, m := range WhisperModels {
		if m == name {
			return true
		}
	}
	return false
}

// Transcription is one submitted media file and everything derived from it.
type Transcription struct {
	ID                 int64      `json:"id"`
	Filename           string     `json:"filename"`
	FileSize           int64      `json:"file_size"`
	IPAddress          string     `json:"-"`
	UserUUID           string     `json:"user_uuid,omitempty"`
	Signature          string     `json:"signature,omitempty"`
	PasswordPhraseHash string     `json:"-"`
	PublicToken        string     `json:"public_token,omitempty"`
	OriginalPath       string     `json:"-"`
	WhisperModel       string     `json:"whisper_model"`
	ExtractScreenshots bool       `json:"extract_screenshots"`
	SelectedLanguage   string     `json:"selected_language,omitempty"`
	DetectedLanguage   string     `json:"detected_language,omitempty"`
	LanguageConfirmed  bool       `json:"language_confirmed"`
	TranscribedText    string     `json:"transcribed_text,omitempty"`
	ProcessingLog      string     `json:"-"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	Status             string     `json:"status"`
	UploadSession      string     `json:"upload_session,omitempty"`
	UploadedAt         time.Time  `json:"uploaded_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

// NeedsLanguageConfirmation reports whether the job is parked waiting for the
// caller to confirm the detected language.
func (t *Transcription) NeedsLanguageConfirmation() bool {
	return t.Status == StatusPending && t.DetectedLanguage != "" && !t.LanguageConfirmed
}

// HasPassword reports whether a password phrase was set at submission.
func (t *Transcription) HasPassword() bool {
	return t.PasswordPhraseHash != ""
}

// Screenshot is one kept slide frame belonging to a transcription.
type Screenshot struct {
	ID              int64   `json:"id"`
	TranscriptionID int64   `json:"transcription_id"`
	Ordinal         int     `json:"ordinal"`
	Timestamp       float64 `json:"timestamp"`
	ImagePath       string  `json:"image_path"`
}
