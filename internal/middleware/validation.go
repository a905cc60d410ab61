package middleware

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/agentreplay/internal/service"
)

// MaxQueryLength bounds search queries.
const MaxQueryLength = 256

// ValidateSearchQuery validates a replay search query.
func ValidateSearchQuery(q string) error {
	if q == "" {
		return errors.New("query cannot be empty")
	}
	if len(q) > MaxQueryLength {
		return errors.New("query exceeds maximum length")
	}
	if !utf8.ValidString(q) {
		return errors.New("query must be valid UTF-8")
	}
	return nil
}

// TraceID rejects requests whose URL parameter param is not a valid trace id.
func TraceID(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := service.ValidateID(chi.URLParam(r, param)); err != nil {
				writeError(w, http.StatusBadRequest, "invalid trace id")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets conservative response headers. Exported HTML pages
// carry inline styles, so style-src allows them.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
		next.ServeHTTP(w, r)
	})
}
