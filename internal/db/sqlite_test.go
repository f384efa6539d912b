package db

import (
	"path/filepath"
	"testing"

	"github.com/transcribe-hub/backend/internal/db/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func create(t *testing.T, d *Database, rec *models.Transcription) int64 {
	t.Helper()
	if rec.WhisperModel == "" {
		rec.WhisperModel = "base"
	}
	id, err := d.CreateTranscription(rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func TestCreateAndGet(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{
		Filename:    "talk.mp3",
		FileSize:    1234,
		IPAddress:   "10.0.0.1",
		Signature:   "weekly sync",
		PublicToken: "tok1",
	})

	rec, err := d.GetTranscription(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != models.StatusPending {
		t.Fatalf("new record status = %s, want pending", rec.Status)
	}
	if rec.Filename != "talk.mp3" || rec.FileSize != 1234 || rec.Signature != "weekly sync" {
		t.Fatalf("round trip mismatch: %+v", rec)
	}
	if rec.TranscribedText != "" || rec.ErrorMessage != "" {
		t.Fatal("fresh record must have no transcript or error")
	}
}

func TestGetByPublicToken(t *testing.T) {
	d := newTestDB(t)
	create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "token-a"})

	rec, err := d.GetByPublicToken("token-a")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if rec.Filename != "a.mp3" {
		t.Fatalf("filename = %s", rec.Filename)
	}
	if _, err := d.GetByPublicToken("nope"); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestEnsurePublicTokenIdempotent(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3"})

	first, err := d.EnsurePublicToken(id, "candidate-one")
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.EnsurePublicToken(id, "candidate-two")
	if err != nil {
		t.Fatal(err)
	}
	if first != "candidate-one" || second != first {
		t.Fatalf("token changed: first=%s second=%s", first, second)
	}
}

func TestSessionGrouping(t *testing.T) {
	d := newTestDB(t)
	for i, name := range []string{"one.mp4", "two.mp4", "three.mp4"} {
		create(t, d, &models.Transcription{
			Filename:      name,
			UploadSession: "sess-1",
			PublicToken:   "tok-" + name,
			FileSize:      int64(i),
		})
	}
	create(t, d, &models.Transcription{Filename: "other.mp4", UploadSession: "sess-2", PublicToken: "tok-other"})

	recs, err := d.ListBySession("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	if recs[0].Filename != "one.mp4" {
		t.Fatalf("session listing not oldest-first: %s", recs[0].Filename)
	}
}

func TestStatusTransitions(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})

	ok, err := d.MarkProcessing(id)
	if err != nil || !ok {
		t.Fatalf("mark processing: ok=%v err=%v", ok, err)
	}
	// Double dispatch guard: not pending anymore.
	ok, err = d.MarkProcessing(id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second MarkProcessing should report no transition")
	}

	if err := d.MarkCompleted(id, "the transcript"); err != nil {
		t.Fatal(err)
	}
	rec, _ := d.GetTranscription(id)
	if rec.Status != models.StatusCompleted || rec.TranscribedText != "the transcript" {
		t.Fatalf("completed state wrong: %+v", rec)
	}
	if rec.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
}

func TestMarkError(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})

	if err := d.MarkError(id, "ExtractionFailed: boom"); err != nil {
		t.Fatal(err)
	}
	rec, _ := d.GetTranscription(id)
	if rec.Status != models.StatusError {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.ErrorMessage == "" || rec.TranscribedText != "" {
		t.Fatalf("error state wrong: %+v", rec)
	}
}

func TestMarkErrorClearsEarlierTranscript(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})

	if _, err := d.MarkProcessing(id); err != nil {
		t.Fatal(err)
	}
	if err := d.MarkCompleted(id, "text from the first run"); err != nil {
		t.Fatal(err)
	}
	if err := d.MarkError(id, "DecodeFailed: boom"); err != nil {
		t.Fatal(err)
	}

	rec, _ := d.GetTranscription(id)
	if rec.Status != models.StatusError {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.TranscribedText != "" {
		t.Fatalf("transcript = %q, error record must carry no text", rec.TranscribedText)
	}
}

func TestParkClearsEarlierTranscript(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})

	if _, err := d.MarkProcessing(id); err != nil {
		t.Fatal(err)
	}
	if err := d.MarkCompleted(id, "old text"); err != nil {
		t.Fatal(err)
	}
	if err := d.ParkForLanguageConfirmation(id, "en"); err != nil {
		t.Fatal(err)
	}

	rec, _ := d.GetTranscription(id)
	if rec.Status != models.StatusPending {
		t.Fatalf("status = %s", rec.Status)
	}
	if rec.TranscribedText != "" {
		t.Fatalf("transcript = %q, pending record must carry no text", rec.TranscribedText)
	}
}

func TestLanguageConfirmationFlow(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})

	d.MarkProcessing(id)
	if err := d.ParkForLanguageConfirmation(id, "en"); err != nil {
		t.Fatal(err)
	}
	rec, _ := d.GetTranscription(id)
	if !rec.NeedsLanguageConfirmation() {
		t.Fatalf("expected confirmation required: %+v", rec)
	}

	if err := d.ConfirmLanguage(id, "en"); err != nil {
		t.Fatal(err)
	}
	rec, _ = d.GetTranscription(id)
	if rec.NeedsLanguageConfirmation() {
		t.Fatal("confirmation flag should clear after confirm")
	}
	if rec.SelectedLanguage != "en" || !rec.LanguageConfirmed || rec.Status != models.StatusPending {
		t.Fatalf("confirm state wrong: %+v", rec)
	}
}

func TestAppendLog(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})

	d.AppendLog(id, "first line")
	d.AppendLog(id, "second line")

	rec, _ := d.GetTranscription(id)
	if rec.ProcessingLog != "first line\nsecond line" {
		t.Fatalf("log = %q", rec.ProcessingLog)
	}
}

func TestScreenshotOrdering(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp4", PublicToken: "t1"})

	// Inserted out of order on purpose.
	for _, s := range []models.Screenshot{
		{TranscriptionID: id, Ordinal: 2, Timestamp: 40, ImagePath: "/s/2.jpg"},
		{TranscriptionID: id, Ordinal: 0, Timestamp: 0, ImagePath: "/s/0.jpg"},
		{TranscriptionID: id, Ordinal: 1, Timestamp: 20, ImagePath: "/s/1.jpg"},
	} {
		if _, err := d.AddScreenshot(&s); err != nil {
			t.Fatal(err)
		}
	}

	shots, err := d.ListScreenshots(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(shots) != 3 {
		t.Fatalf("got %d shots", len(shots))
	}
	for i := 1; i < len(shots); i++ {
		if shots[i].Ordinal < shots[i-1].Ordinal ||
			(shots[i].Ordinal == shots[i-1].Ordinal && shots[i].Timestamp < shots[i-1].Timestamp) {
			t.Fatalf("shots out of (ordinal, timestamp) order at %d", i)
		}
	}

	n, err := d.CountScreenshots(id)
	if err != nil || n != 3 {
		t.Fatalf("count = %d err = %v", n, err)
	}
}

func TestResetForRetranscribe(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})
	d.MarkProcessing(id)
	d.ParkForLanguageConfirmation(id, "en")
	d.MarkCompleted(id, "old text")
	d.AppendLog(id, "old log")

	if err := d.ResetForRetranscribe(id, "medium"); err != nil {
		t.Fatal(err)
	}
	rec, _ := d.GetTranscription(id)
	if rec.Status != models.StatusPending || rec.WhisperModel != "medium" {
		t.Fatalf("reset state wrong: %+v", rec)
	}
	if rec.TranscribedText != "" || rec.ErrorMessage != "" || rec.ProcessingLog != "" || rec.DetectedLanguage != "" {
		t.Fatalf("derived fields not cleared: %+v", rec)
	}
	if rec.CompletedAt != nil {
		t.Fatal("completed_at should be cleared")
	}
}

func TestClearAll(t *testing.T) {
	d := newTestDB(t)
	id := create(t, d, &models.Transcription{Filename: "a.mp4", PublicToken: "t1"})
	d.AddScreenshot(&models.Screenshot{TranscriptionID: id, ImagePath: "/s/0.jpg"})

	n, imagePaths, err := d.ClearAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("cleared %d transcriptions, want 1", n)
	}
	if len(imagePaths) != 1 || imagePaths[0] != "/s/0.jpg" {
		t.Fatalf("image paths = %v", imagePaths)
	}
	if _, err := d.GetTranscription(id); err == nil {
		t.Fatal("record should be gone")
	}
}

func TestListPendingIDsSkipsParkedJobs(t *testing.T) {
	d := newTestDB(t)
	runnable := create(t, d, &models.Transcription{Filename: "a.mp3", PublicToken: "t1"})
	parked := create(t, d, &models.Transcription{Filename: "b.mp3", PublicToken: "t2"})
	done := create(t, d, &models.Transcription{Filename: "c.mp3", PublicToken: "t3"})

	d.MarkProcessing(parked)
	d.ParkForLanguageConfirmation(parked, "en")
	d.MarkProcessing(done)
	d.MarkCompleted(done, "text")

	ids, err := d.ListPendingIDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != runnable {
		t.Fatalf("pending ids = %v, want [%d]", ids, runnable)
	}
}
