package handler

import (
	"net/http"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	Ready() error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	library Checker
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(library Checker) *HealthHandler {
	return &HealthHandler{
		library: library,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.library == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "trace library not configured",
		})
		return
	}
	if err := h.library.Ready(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "trace directory unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
