// Package pipeline drives a transcription job through audio extraction,
// decoding and slide extraction, moving it between the pending, processing,
// completed and error states.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/transcribe-hub/backend/internal/db"
	"github.com/transcribe-hub/backend/internal/db/models"
	"github.com/transcribe-hub/backend/internal/media"
	"github.com/transcribe-hub/backend/internal/storage"
	"github.com/transcribe-hub/backend/internal/whisper"
)

// MediaTools abstracts the external media toolchain so tests can substitute
// fakes for the ffmpeg shell-outs.
type MediaTools interface {
	ExtractAudio(ctx context.Context, path string) (string, error)
	Probe(ctx context.Context, path string) (*media.MediaInfo, error)
	DetectSlides(ctx context.Context, videoPath, outDir string, opts media.SlideOptions) ([]media.Slide, error)
}

// FFmpegTools is the production MediaTools backed by ffmpeg/ffprobe.
type FFmpegTools struct{}

func (FFmpegTools) ExtractAudio(ctx context.Context, path string) (string, error) {
	return media.ExtractAudio(ctx, path)
}

func (FFmpegTools) Probe(ctx context.Context, path string) (*media.MediaInfo, error) {
	return media.Probe(ctx, path)
}

func (FFmpegTools) DetectSlides(ctx context.Context, videoPath, outDir string, opts media.SlideOptions) ([]media.Slide, error) {
	return media.DetectSlides(ctx, videoPath, outDir, opts)
}

var (
	// ErrJobProcessing rejects confirm/retranscribe while a run is in flight.
	ErrJobProcessing = errors.New("job is currently processing")
	// ErrOriginalMissing means the stored original is no longer resolvable.
	ErrOriginalMissing = errors.New("original file is no longer available")
	// ErrNotAwaitingConfirmation rejects confirm on jobs that are not parked
	// for language confirmation.
	ErrNotAwaitingConfirmation = errors.New("job is not awaiting language confirmation")
)

// Language confirmation modes.
const (
	ConfirmSpecific = "specific"
	ConfirmAuto     = "auto"
)

// Orchestrator owns all mutation of a job during its pipeline run.
type Orchestrator struct {
	db              *db.Database
	store           *storage.Store
	tools           MediaTools
	engines         *whisper.ModelCache
	defaultLanguage string
	retainOriginals int
}

func NewOrchestrator(database *db.Database, store *storage.Store, tools MediaTools, engines *whisper.ModelCache, defaultLanguage string, retainOriginals int) *Orchestrator {
	return &Orchestrator{
		db:              database,
		store:           store,
		tools:           tools,
		engines:         engines,
		defaultLanguage: defaultLanguage,
		retainOriginals: retainOriginals,
	}
}

// stepFailure tags a pipeline error with its taxonomy kind; the persisted
// error message is "kind: message".
type stepFailure struct {
	kind string
	err  error
}

func (f *stepFailure) Error() string {
	return f.kind + ": " + f.err.Error()
}

func fail(kind string, err error) *stepFailure {
	return &stepFailure{kind: kind, err: err}
}

// Run executes one full pipeline attempt for a job. It never returns an
// error: every failure is captured into the job record. Nothing escapes to
// crash the worker.
func (o *Orchestrator) Run(ctx context.Context, id int64) {
	t, err := o.db.GetTranscription(id)
	if err != nil {
		log.Printf("[pipeline] load job %d: %v", id, err)
		return
	}

	ok, err := o.db.MarkProcessing(id)
	if err != nil {
		log.Printf("[pipeline] mark processing %d: %v", id, err)
		return
	}
	if !ok {
		// Someone else moved it, or it was never pending. Not ours to run.
		return
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			o.db.MarkError(id, msg)
			o.logStep(id, msg)
			log.Printf("[pipeline] job %d panicked: %v", id, r)
		}
	}()

	o.logStep(id, fmt.Sprintf("processing started: file=%s size=%d model=%s", t.Filename, t.FileSize, t.WhisperModel))

	paused, failure := o.run(ctx, id, t)
	switch {
	case failure != nil:
		o.db.MarkError(id, failure.Error())
		o.logStep(id, "failed: "+failure.Error())
		log.Printf("[pipeline] job %d failed: %v", id, failure)
	case paused:
		log.Printf("[pipeline] job %d paused for language confirmation", id)
	default:
		log.Printf("[pipeline] job %d completed", id)
		o.sweepOriginals()
	}
}

// run performs the actual steps. It reports whether the job was parked for
// language confirmation, or the failure that ended the attempt.
func (o *Orchestrator) run(ctx context.Context, id int64, t *models.Transcription) (paused bool, failure *stepFailure) {
	if !o.store.OriginalExists(t.OriginalPath) {
		return false, fail("NotFound", ErrOriginalMissing)
	}

	audioPath, err := o.tools.ExtractAudio(ctx, t.OriginalPath)
	if err != nil {
		return false, classifyExtraction(err)
	}
	// The normalized audio track is derived state, removed on every outcome.
	defer os.Remove(audioPath)

	if info, err := os.Stat(audioPath); err == nil {
		o.logStep(id, fmt.Sprintf("audio extracted: %d bytes", info.Size()))
	}

	engine, err := o.engines.GetOrLoad(ctx, t.WhisperModel)
	if err != nil {
		if errors.Is(err, whisper.ErrEngineLoad) {
			return false, fail("EngineLoadFailed", err)
		}
		return false, fail("DecodeFailed", err)
	}
	result, err := engine.Transcribe(ctx, whisper.Request{
		AudioPath: audioPath,
		Language:  t.SelectedLanguage,
		Model:     t.WhisperModel,
	})
	if err != nil {
		return false, fail("DecodeFailed", err)
	}

	o.logStep(id, fmt.Sprintf("decoded %d segments, language=%s (p=%.2f)",
		len(result.Segments), result.DetectedLanguage, result.LanguageProbability))

	// Soft interrupt: an unexpected language parks the job until the caller
	// confirms. The decode result is discarded on purpose; the confirmed run
	// re-decodes with the chosen language directive.
	if o.needsConfirmation(t, result.DetectedLanguage) {
		if err := o.db.ParkForLanguageConfirmation(id, result.DetectedLanguage); err != nil {
			return false, fail("DecodeFailed", err)
		}
		o.logStep(id, fmt.Sprintf("detected non-default language %q, awaiting confirmation", result.DetectedLanguage))
		return true, nil
	}

	if result.DetectedLanguage != "" {
		if err := o.db.SetDetectedLanguage(id, result.DetectedLanguage); err != nil {
			log.Printf("[pipeline] record detected language for %d: %v", id, err)
		}
	}

	// Slide extraction is best-effort: its failure is logged, never fatal.
	if t.ExtractScreenshots {
		o.extractSlides(ctx, id, t)
	}

	text := whisper.JoinSegments(result.Segments)
	if err := o.db.MarkCompleted(id, text); err != nil {
		return false, fail("DecodeFailed", fmt.Errorf("persist transcript: %w", err))
	}
	o.logStep(id, fmt.Sprintf("completed: %d characters", len(text)))
	return false, nil
}

func (o *Orchestrator) needsConfirmation(t *models.Transcription, detected string) bool {
	if t.SelectedLanguage != "" || t.LanguageConfirmed {
		return false
	}
	return detected != "" && detected != o.defaultLanguage
}

func (o *Orchestrator) extractSlides(ctx context.Context, id int64, t *models.Transcription) {
	info, err := o.tools.Probe(ctx, t.OriginalPath)
	if err != nil {
		o.logStep(id, "slide extraction skipped: probe failed: "+err.Error())
		return
	}
	if !info.HasVideo {
		o.logStep(id, "slide extraction skipped: no video stream")
		return
	}

	slides, err := o.tools.DetectSlides(ctx, t.OriginalPath, o.store.ScreenshotDir(id), media.DefaultSlideOptions())
	if err != nil {
		o.logStep(id, "slide extraction failed: "+err.Error())
		return
	}
	for _, s := range slides {
		if _, err := o.db.AddScreenshot(&models.Screenshot{
			TranscriptionID: id,
			Ordinal:         s.Ordinal,
			Timestamp:       s.Timestamp,
			ImagePath:       s.Path,
		}); err != nil {
			log.Printf("[pipeline] record screenshot for %d: %v", id, err)
		}
	}
	o.logStep(id, fmt.Sprintf("extracted %d slides", len(slides)))
}

// ConfirmLanguage resumes a job parked for language confirmation. mode is
// "specific" (use language) or "auto" (accept whatever is detected). The job
// returns to pending; the caller re-dispatches it.
func (o *Orchestrator) ConfirmLanguage(id int64, mode, language string) error {
	t, err := o.db.GetTranscription(id)
	if err != nil {
		return err
	}
	if t.Status == models.StatusProcessing {
		return ErrJobProcessing
	}
	if !t.NeedsLanguageConfirmation() {
		return ErrNotAwaitingConfirmation
	}
	if !o.store.OriginalExists(t.OriginalPath) {
		return ErrOriginalMissing
	}

	selected := ""
	if mode == ConfirmSpecific {
		selected = language
	}
	if err := o.db.ConfirmLanguage(id, selected); err != nil {
		return err
	}
	o.logStep(id, fmt.Sprintf("language confirmed: mode=%s language=%q", mode, selected))
	return nil
}

// Retranscribe re-runs the full pipeline with a different model, reusing the
// stored original. Rejected while a run is in flight.
func (o *Orchestrator) Retranscribe(id int64, model string) error {
	t, err := o.db.GetTranscription(id)
	if err != nil {
		return err
	}
	if t.Status == models.StatusProcessing {
		return ErrJobProcessing
	}
	if !o.store.OriginalExists(t.OriginalPath) {
		return ErrOriginalMissing
	}
	if !models.IsValidModel(model) {
		return fmt.Errorf("unknown whisper model %q", model)
	}
	if err := o.db.ResetForRetranscribe(id, model); err != nil {
		return err
	}
	o.logStep(id, "retranscribe requested with model "+model)
	return nil
}

// sweepOriginals enforces the retention policy: only the N most recent
// originals are kept on disk; older records lose re-transcription.
func (o *Orchestrator) sweepOriginals() {
	if o.retainOriginals <= 0 {
		return
	}
	ids, paths, err := o.db.ListOriginalPaths()
	if err != nil {
		log.Printf("[pipeline] retention sweep: %v", err)
		return
	}
	for i := o.retainOriginals; i < len(ids); i++ {
		if err := o.store.RemoveOriginal(paths[i]); err != nil && !os.IsNotExist(err) {
			log.Printf("[pipeline] remove original %s: %v", paths[i], err)
			continue
		}
		o.db.ClearOriginalPath(ids[i])
	}
}

func (o *Orchestrator) logStep(id int64, line string) {
	if err := o.db.AppendLog(id, line); err != nil {
		log.Printf("[pipeline] append log for %d: %v", id, err)
	}
}

func classifyExtraction(err error) *stepFailure {
	switch {
	case errors.Is(err, media.ErrToolUnavailable):
		return fail("ToolUnavailable", err)
	case errors.Is(err, media.ErrExtractionTimeout):
		return fail("Timeout", err)
	default:
		return fail("ExtractionFailed", err)
	}
}
