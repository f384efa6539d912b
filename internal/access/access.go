// Package access decides whether a caller may see a transcription's outputs.
// A record with no password phrase is open; otherwise the caller must supply
// the phrase, or a share link carrying a token derived from it.
package access

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/transcribe-hub/backend/internal/db/models"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

var allowed = Decision{Allowed: true}

// HashPhrase returns the hex sha256 of a password phrase, or "" for an empty
// phrase. The hash is deterministic on purpose: records sharing a phrase are
// grouped by hash equality, and share tokens are derived from it.
func HashPhrase(phrase string) string {
	if phrase == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(phrase))
	return hex.EncodeToString(sum[:])
}

// CheckPhrase evaluates a supplied phrase against a record. No stored hash
// means the record is open regardless of the supplied phrase.
func CheckPhrase(t *models.Transcription, phrase string) Decision {
	if !t.HasPassword() {
		return allowed
	}
	if phrase == "" {
		return Decision{Reason: "password phrase required"}
	}
	if HashPhrase(phrase) != t.PasswordPhraseHash {
		return Decision{Reason: "wrong password phrase"}
	}
	return allowed
}

// NewPublicToken generates a 32-character URL-safe token.
func NewPublicToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("access: read random: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:32]
}

// ShareToken derives the verification value embedded in password-bearing
// share links. Knowing it proves knowledge of the phrase without exposing it.
func ShareToken(publicToken, phraseHash string) string {
	if publicToken == "" || phraseHash == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(publicToken + "_" + phraseHash))
	return hex.EncodeToString(sum[:])[:16]
}

// CheckShareToken evaluates a share-link request. Tokenized links only work
// for password-protected records; an open record is reached by id instead.
func CheckShareToken(t *models.Transcription, supplied string) Decision {
	if !t.HasPassword() {
		return Decision{Reason: "public link access is not available for this transcription"}
	}
	if supplied == "" {
		return Decision{Reason: "this transcription requires a link with an access token"}
	}
	if supplied != ShareToken(t.PublicToken, t.PasswordPhraseHash) {
		return Decision{Reason: "invalid access link"}
	}
	return allowed
}
