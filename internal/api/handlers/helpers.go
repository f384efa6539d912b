package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// idParam parses the {id} URL parameter as int64.
func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// phraseFromRequest extracts the access phrase the caller supplied, either in
// the X-Access-Phrase header or as a ?phrase= query parameter.
func phraseFromRequest(r *http.Request) string {
	if p := r.Header.Get("X-Access-Phrase"); p != "" {
		return p
	}
	return r.URL.Query().Get("phrase")
}
