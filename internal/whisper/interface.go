package whisper

import (
	"context"
	"strings"
)

// Request is the input for one decoding run over a normalized audio file.
type Request struct {
	AudioPath string // mono 16kHz PCM WAV
	Language  string // explicit language code, or "" for auto-detect
	Model     string // model size: tiny, base, small, medium, large-v2, large-v3
}

// Segment is one time-stamped piece of decoded speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the output of a decoding run.
type Result struct {
	Segments            []Segment
	DetectedLanguage    string
	LanguageProbability float64
}

// Engine is the common interface for speech-to-text backends.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// JoinSegments builds the final transcript: space-joined, trimmed text of all
// non-empty segments in order. Empty overall output stays empty so callers
// can tell "no speech detected" from "not yet processed".
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		text := strings.TrimSpace(s.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
