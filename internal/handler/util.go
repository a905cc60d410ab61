package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/agentreplay/internal/service"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeLibraryError maps library errors to a status code. Anything that is
// not the caller's fault is logged and reported without detail.
func writeLibraryError(w http.ResponseWriter, log *logger.Logger, id string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidTraceID):
		writeError(w, http.StatusBadRequest, "invalid trace id")
	case errors.Is(err, service.ErrTraceNotFound):
		writeError(w, http.StatusNotFound, "trace not found")
	default:
		log.Error("failed to load trace", zap.String("trace_file", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load trace")
	}
}
