// Package handler provides HTTP handlers for the API.
package handler

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agentreplay/internal/export"
	"github.com/capitalize-ai/agentreplay/internal/middleware"
	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/replay"
	"github.com/capitalize-ai/agentreplay/internal/service"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
)

// TraceHandler handles trace endpoints.
type TraceHandler struct {
	library *service.Library
	logger  *logger.Logger
}

// NewTraceHandler creates a new trace handler.
func NewTraceHandler(library *service.Library, log *logger.Logger) *TraceHandler {
	return &TraceHandler{
		library: library,
		logger:  log,
	}
}

// StepResponse is one replay step.
type StepResponse struct {
	Position int                  `json:"position"`
	Total    int                  `json:"total"`
	Span     string               `json:"span"`
	SpanID   string               `json:"span_id"`
	Depth    int                  `json:"depth"`
	HasNext  bool                 `json:"has_next"`
	HasPrev  bool                 `json:"has_prev"`
	Event    export.EventDocument `json:"event"`
}

func newStepResponse(e *replay.Engine, index int, s model.Step) StepResponse {
	return StepResponse{
		Position: index,
		Total:    e.Len(),
		Span:     s.Span.Name,
		SpanID:   s.Span.ID,
		Depth:    s.Depth,
		HasNext:  index+1 < e.Len(),
		HasPrev:  index > 0,
		Event:    export.NewEventDocument(s.Event),
	}
}

// List handles GET /api/v1/traces
func (h *TraceHandler) List(w http.ResponseWriter, r *http.Request) {
	traces, err := h.library.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list traces", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
		"total":  len(traces),
	})
}

// Get handles GET /api/v1/traces/{id}
func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.library.Get(r.Context(), id)
	if err != nil {
		writeLibraryError(w, h.logger, id, err)
		return
	}

	writeJSON(w, http.StatusOK, export.NewTraceDocument(t))
}

// Step handles GET /api/v1/traces/{id}/steps/{position}
//
// Positions are 0-based indices into the flattened event order.
func (h *TraceHandler) Step(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "position must be an integer")
		return
	}

	e, err := h.library.Engine(r.Context(), id)
	if err != nil {
		writeLibraryError(w, h.logger, id, err)
		return
	}

	s, err := e.Jump(position)
	if errors.Is(err, replay.ErrOutOfRange) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to replay trace")
		return
	}

	writeJSON(w, http.StatusOK, newStepResponse(e, position, s))
}

// Search handles GET /api/v1/traces/{id}/search?q=
func (h *TraceHandler) Search(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	q := r.URL.Query().Get("q")
	if err := middleware.ValidateSearchQuery(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e, err := h.library.Engine(r.Context(), id)
	if err != nil {
		writeLibraryError(w, h.logger, id, err)
		return
	}

	hits := e.Search(q)
	matches := make([]StepResponse, 0, len(hits))
	for _, i := range hits {
		s, err := e.At(i)
		if err != nil {
			continue
		}
		matches = append(matches, newStepResponse(e, i, s))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"matches": matches,
		"total":   len(matches),
	})
}

// Export handles GET /api/v1/traces/{id}/export?format=json|html
func (h *TraceHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(export.FormatJSON)
	}
	format, err := export.ParseFormat(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.library.Get(r.Context(), id)
	if err != nil {
		writeLibraryError(w, h.logger, id, err)
		return
	}

	// Render fully before writing so a template failure still yields a 500.
	var buf bytes.Buffer
	if err := export.Write(&buf, format, t); err != nil {
		h.logger.Error("failed to export trace", zap.String("trace_file", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export trace")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Diff handles GET /api/v1/diff?a=&b=
func (h *TraceHandler) Diff(w http.ResponseWriter, r *http.Request) {
	a, b := r.URL.Query().Get("a"), r.URL.Query().Get("b")
	if a == "" || b == "" {
		writeError(w, http.StatusBadRequest, "query parameters a and b are required")
		return
	}

	result, err := h.library.Diff(r.Context(), a, b)
	if err != nil {
		writeLibraryError(w, h.logger, a+","+b, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":   result.Summary(),
		"identical": result.Identical(),
		"result":    result,
	})
}
