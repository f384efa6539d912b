package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/transcribe-hub/backend/internal/auth"
	"github.com/transcribe-hub/backend/internal/db/models"
)

type Database struct {
	db *sql.DB
}

func NewSQLite(path string) (*Database, error) {
	sqlDB, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	d := &Database{db: sqlDB}
	if err := d.migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Database) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS transcriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		file_size INTEGER NOT NULL DEFAULT 0,
		ip_address TEXT NOT NULL DEFAULT '',
		user_uuid TEXT NOT NULL DEFAULT '',
		signature TEXT NOT NULL DEFAULT '',
		password_phrase_hash TEXT NOT NULL DEFAULT '',
		public_token TEXT UNIQUE,
		original_path TEXT NOT NULL DEFAULT '',
		whisper_model TEXT NOT NULL DEFAULT 'base',
		extract_screenshots INTEGER NOT NULL DEFAULT 0,
		selected_language TEXT NOT NULL DEFAULT '',
		detected_language TEXT NOT NULL DEFAULT '',
		language_confirmed INTEGER NOT NULL DEFAULT 0,
		transcribed_text TEXT NOT NULL DEFAULT '',
		processing_log TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		upload_session TEXT NOT NULL DEFAULT '',
		uploaded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_transcriptions_phrase ON transcriptions(password_phrase_hash);
	CREATE INDEX IF NOT EXISTS idx_transcriptions_session ON transcriptions(upload_session);

	CREATE TABLE IF NOT EXISTS screenshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transcription_id INTEGER NOT NULL,
		ordinal INTEGER NOT NULL DEFAULT 0,
		timestamp REAL NOT NULL DEFAULT 0,
		image_path TEXT NOT NULL,
		FOREIGN KEY (transcription_id) REFERENCES transcriptions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_screenshots_transcription ON screenshots(transcription_id);
	`
	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// EnsureAdmin creates the administrative account if none exists yet.
func (d *Database) EnsureAdmin(username, password string) error {
	var count int
	err := d.db.QueryRow("SELECT COUNT(*) FROM users WHERE role = 'admin'").Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		"INSERT INTO users (username, password, role) VALUES (?, ?, 'admin')",
		username, hash,
	)
	return err
}

func (d *Database) GetUserByUsername(username string) (id int64, passwordHash, role string, err error) {
	err = d.db.QueryRow(
		"SELECT id, password, role FROM users WHERE username = ?",
		username,
	).Scan(&id, &passwordHash, &role)
	return
}

const transcriptionColumns = `id, filename, file_size, ip_address, user_uuid, signature,
	password_phrase_hash, public_token, original_path, whisper_model, extract_screenshots,
	selected_language, detected_language, language_confirmed, transcribed_text,
	processing_log, error_message, status, upload_session, uploaded_at, completed_at`

func (d *Database) scanTranscription(row interface{ Scan(...interface{}) error }) (*models.Transcription, error) {
	t := &models.Transcription{}
	var publicToken sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Filename, &t.FileSize, &t.IPAddress, &t.UserUUID, &t.Signature,
		&t.PasswordPhraseHash, &publicToken, &t.OriginalPath, &t.WhisperModel, &t.ExtractScreenshots,
		&t.SelectedLanguage, &t.DetectedLanguage, &t.LanguageConfirmed, &t.TranscribedText,
		&t.ProcessingLog, &t.ErrorMessage, &t.Status, &t.UploadSession, &t.UploadedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if publicToken.Valid {
		t.PublicToken = publicToken.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

// CreateTranscription inserts a new pending record and returns its id.
func (d *Database) CreateTranscription(t *models.Transcription) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO transcriptions (filename, file_size, ip_address, user_uuid, signature,
			password_phrase_hash, public_token, original_path, whisper_model, extract_screenshots,
			selected_language, status, upload_session, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Filename, t.FileSize, t.IPAddress, t.UserUUID, t.Signature,
		t.PasswordPhraseHash, t.PublicToken, t.OriginalPath, t.WhisperModel, t.ExtractScreenshots,
		t.SelectedLanguage, models.StatusPending, t.UploadSession, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert transcription: %w", err)
	}
	return res.LastInsertId()
}

func (d *Database) GetTranscription(id int64) (*models.Transcription, error) {
	row := d.db.QueryRow("SELECT "+transcriptionColumns+" FROM transcriptions WHERE id = ?", id)
	return d.scanTranscription(row)
}

func (d *Database) GetByPublicToken(token string) (*models.Transcription, error) {
	row := d.db.QueryRow("SELECT "+transcriptionColumns+" FROM transcriptions WHERE public_token = ?", token)
	return d.scanTranscription(row)
}

func (d *Database) queryTranscriptions(query string, args ...interface{}) ([]*models.Transcription, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Transcription
	for rows.Next() {
		t, err := d.scanTranscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListBySession returns all records sharing an upload session, oldest first.
func (d *Database) ListBySession(session string) ([]*models.Transcription, error) {
	return d.queryTranscriptions(
		"SELECT "+transcriptionColumns+" FROM transcriptions WHERE upload_session = ? ORDER BY uploaded_at ASC, id ASC",
		session,
	)
}

// ListByPasswordHash returns the newest records protected by the given phrase hash.
func (d *Database) ListByPasswordHash(hash string, limit int) ([]*models.Transcription, error) {
	return d.queryTranscriptions(
		"SELECT "+transcriptionColumns+" FROM transcriptions WHERE password_phrase_hash = ? ORDER BY uploaded_at DESC, id DESC LIMIT ?",
		hash, limit,
	)
}

// ListPublic returns the newest records with no password set.
func (d *Database) ListPublic(limit int) ([]*models.Transcription, error) {
	return d.queryTranscriptions(
		"SELECT "+transcriptionColumns+" FROM transcriptions WHERE password_phrase_hash = '' ORDER BY uploaded_at DESC, id DESC LIMIT ?",
		limit,
	)
}

// ListPendingIDs returns ids of pending jobs that are not parked awaiting
// language confirmation, oldest first. Used to re-queue work on startup.
func (d *Database) ListPendingIDs() ([]int64, error) {
	rows, err := d.db.Query(`
		SELECT id FROM transcriptions
		WHERE status = ? AND NOT (detected_language != '' AND language_confirmed = 0)
		ORDER BY uploaded_at ASC`, models.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkProcessing flips a pending job to processing. Returns false if the job
// was not pending, which guards against double dispatch.
func (d *Database) MarkProcessing(id int64) (bool, error) {
	res, err := d.db.Exec(
		"UPDATE transcriptions SET status = ? WHERE id = ? AND status = ?",
		models.StatusProcessing, id, models.StatusPending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkCompleted persists the transcript and moves the job to completed.
func (d *Database) MarkCompleted(id int64, text string) error {
	_, err := d.db.Exec(
		"UPDATE transcriptions SET status = ?, transcribed_text = ?, error_message = '', completed_at = ? WHERE id = ?",
		models.StatusCompleted, text, time.Now(), id,
	)
	return err
}

// MarkError records a failure message and moves the job to error. Any
// transcript from an earlier run is cleared: an errored job never carries
// text.
func (d *Database) MarkError(id int64, msg string) error {
	_, err := d.db.Exec(
		"UPDATE transcriptions SET status = ?, error_message = ?, transcribed_text = '', completed_at = ? WHERE id = ?",
		models.StatusError, msg, time.Now(), id,
	)
	return err
}

// ParkForLanguageConfirmation returns a processing job to pending with the
// detected language recorded, awaiting an explicit confirmation call. Text
// from any earlier run is cleared while the job sits pending.
func (d *Database) ParkForLanguageConfirmation(id int64, detected string) error {
	_, err := d.db.Exec(
		"UPDATE transcriptions SET status = ?, detected_language = ?, transcribed_text = '' WHERE id = ?",
		models.StatusPending, detected, id,
	)
	return err
}

// SetDetectedLanguage records what the engine detected without touching status.
func (d *Database) SetDetectedLanguage(id int64, detected string) error {
	_, err := d.db.Exec(
		"UPDATE transcriptions SET detected_language = ? WHERE id = ?",
		detected, id,
	)
	return err
}

// ConfirmLanguage records the caller's language choice and resets the job to
// pending so it can be re-dispatched.
func (d *Database) ConfirmLanguage(id int64, selected string) error {
	_, err := d.db.Exec(
		"UPDATE transcriptions SET selected_language = ?, language_confirmed = 1, status = ? WHERE id = ?",
		selected, models.StatusPending, id,
	)
	return err
}

// ResetForRetranscribe clears derived fields, applies the new model choice and
// returns the job to pending.
func (d *Database) ResetForRetranscribe(id int64, model string) error {
	_, err := d.db.Exec(`
		UPDATE transcriptions SET whisper_model = ?, status = ?, transcribed_text = '',
			error_message = '', processing_log = '', detected_language = '', completed_at = NULL
		WHERE id = ?`,
		model, models.StatusPending, id,
	)
	return err
}

// AppendLog appends one line to the job's diagnostic trail.
func (d *Database) AppendLog(id int64, line string) error {
	_, err := d.db.Exec(`
		UPDATE transcriptions
		SET processing_log = CASE WHEN processing_log = '' THEN ? ELSE processing_log || char(10) || ? END
		WHERE id = ?`,
		line, line, id,
	)
	return err
}

// EnsurePublicToken stores the given token if the record has none yet and
// returns the token in effect. The stored token never changes once set.
func (d *Database) EnsurePublicToken(id int64, candidate string) (string, error) {
	_, err := d.db.Exec(
		"UPDATE transcriptions SET public_token = ? WHERE id = ? AND (public_token IS NULL OR public_token = '')",
		candidate, id,
	)
	if err != nil {
		return "", err
	}
	var token string
	err = d.db.QueryRow("SELECT public_token FROM transcriptions WHERE id = ?", id).Scan(&token)
	return token, err
}

// AddScreenshot records one kept frame for a transcription.
func (d *Database) AddScreenshot(s *models.Screenshot) (int64, error) {
	res, err := d.db.Exec(
		"INSERT INTO screenshots (transcription_id, ordinal, timestamp, image_path) VALUES (?, ?, ?, ?)",
		s.TranscriptionID, s.Ordinal, s.Timestamp, s.ImagePath,
	)
	if err != nil {
		return 0, fmt.Errorf("insert screenshot: %w", err)
	}
	return res.LastInsertId()
}

// ListScreenshots returns a job's frames ordered by (ordinal, timestamp).
func (d *Database) ListScreenshots(transcriptionID int64) ([]*models.Screenshot, error) {
	rows, err := d.db.Query(
		"SELECT id, transcription_id, ordinal, timestamp, image_path FROM screenshots WHERE transcription_id = ? ORDER BY ordinal ASC, timestamp ASC",
		transcriptionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Screenshot
	for rows.Next() {
		s := &models.Screenshot{}
		if err := rows.Scan(&s.ID, &s.TranscriptionID, &s.Ordinal, &s.Timestamp, &s.ImagePath); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *Database) CountScreenshots(transcriptionID int64) (int, error) {
	var n int
	err := d.db.QueryRow("SELECT COUNT(*) FROM screenshots WHERE transcription_id = ?", transcriptionID).Scan(&n)
	return n, err
}

// ListOriginalPaths returns (id, path) for every record with a stored
// original, newest first. Used by the retention sweep.
func (d *Database) ListOriginalPaths() (ids []int64, paths []string, err error) {
	rows, err := d.db.Query(
		"SELECT id, original_path FROM transcriptions WHERE original_path != '' ORDER BY uploaded_at DESC, id DESC",
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var p string
		if err := rows.Scan(&id, &p); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		paths = append(paths, p)
	}
	return ids, paths, rows.Err()
}

// ClearOriginalPath forgets a swept original so the record can no longer be
// re-transcribed from it.
func (d *Database) ClearOriginalPath(id int64) error {
	_, err := d.db.Exec("UPDATE transcriptions SET original_path = '' WHERE id = ?", id)
	return err
}

// ClearAll deletes every transcription and screenshot row. Returns the number
// of transcriptions removed and the image paths that should be deleted from
// storage by the caller.
func (d *Database) ClearAll() (int64, []string, error) {
	rows, err := d.db.Query("SELECT image_path FROM screenshots")
	if err != nil {
		return 0, nil, err
	}
	var imagePaths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, nil, err
		}
		imagePaths = append(imagePaths, p)
	}
	rows.Close()

	if _, err := d.db.Exec("DELETE FROM screenshots"); err != nil {
		return 0, nil, err
	}
	res, err := d.db.Exec("DELETE FROM transcriptions")
	if err != nil {
		return 0, nil, err
	}
	n, _ := res.RowsAffected()
	return n, imagePaths, nil
}
