package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"media-extractor/internal/identity"
	"media-extractor/internal/jobs"
	"media-extractor/internal/logging"
)

// retryAfterSeconds is suggested to callers whose source is already being processed.
const retryAfterSeconds = "10"

// writeJSON encodes v as JSON and writes it to the response writer.
// Any encoding or write errors are logged since we typically cannot
// recover from them in an HTTP handler context.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, map[string]string{"error": message})
}

// writeJSONStatus writes a JSON body with the given status code.
func writeJSONStatus(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeServiceError maps a job service error onto an HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidReference):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrInvalidParams):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, jobs.ErrAlreadyProcessing):
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeJSONError(w, "This content is already being processed, try again shortly", http.StatusConflict)
	case errors.Is(err, jobs.ErrJobNotFound):
		writeJSONError(w, "Job not found", http.StatusNotFound)
	default:
		logging.Error("request failed: %v", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}
