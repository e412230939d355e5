package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// envelope is the scanner API response body. Scanners expect HTTP 200 and
// read failures from errors.
type envelope struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Data     any      `json:"data"`
}

func (e *envelope) fail(msg string) { e.Errors = append(e.Errors, msg) }

func (e *envelope) warn(msg string) { e.Warnings = append(e.Warnings, msg) }

func writeEnvelope(w http.ResponseWriter, e *envelope) {
	if e.Errors == nil {
		e.Errors = []string{}
	}
	if e.Warnings == nil {
		e.Warnings = []string{}
	}
	jsonResponse(w, http.StatusOK, e)
}
