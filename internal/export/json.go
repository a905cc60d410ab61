// Package export renders traces as standalone JSON or HTML documents.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

// Format names an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatHTML Format = "html"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatHTML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want json or html)", s)
	}
}

// ContentType is the MIME type of documents in format f.
func (f Format) ContentType() string {
	if f == FormatHTML {
		return "text/html; charset=utf-8"
	}
	return "application/json"
}

// Write renders t to w in format f.
func Write(w io.Writer, f Format, t *model.Trace) error {
	switch f {
	case FormatJSON:
		return JSON(w, t)
	case FormatHTML:
		return HTML(w, t)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

// TraceDocument is the single-document JSON form of a trace.
type TraceDocument struct {
	TraceID    string         `json:"trace_id"`
	Name       string         `json:"name"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	DurationMS float64        `json:"duration_ms"`
	EventCount int            `json:"event_count"`
	SpanCount  int            `json:"span_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Spans      []SpanDocument `json:"spans"`
}

// SpanDocument is one span of a TraceDocument.
type SpanDocument struct {
	SpanID     string          `json:"span_id"`
	Name       string          `json:"name"`
	Start      time.Time       `json:"start"`
	End        *time.Time      `json:"end,omitempty"`
	DurationMS float64         `json:"duration_ms"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Events     []EventDocument `json:"events"`
	Children   []SpanDocument  `json:"children"`
}

// EventDocument is one event of a SpanDocument.
type EventDocument struct {
	EventType model.EventType `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Data      map[string]any  `json:"data"`
}

// NewTraceDocument converts t.
func NewTraceDocument(t *model.Trace) TraceDocument {
	doc := TraceDocument{
		TraceID:    t.ID,
		Name:       t.Name,
		StartTime:  t.StartTime,
		DurationMS: millis(t.Duration()),
		EventCount: t.EventCount(),
		SpanCount:  t.SpanCount(),
		Metadata:   t.Metadata,
		Spans:      make([]SpanDocument, 0, len(t.Spans)),
	}
	if !t.EndTime.IsZero() {
		end := t.EndTime
		doc.EndTime = &end
	}
	for _, s := range t.Spans {
		doc.Spans = append(doc.Spans, newSpanDocument(s))
	}
	return doc
}

func newSpanDocument(s *model.Span) SpanDocument {
	doc := SpanDocument{
		SpanID:     s.ID,
		Name:       s.Name,
		Start:      s.Start,
		DurationMS: millis(s.Duration()),
		Metadata:   s.Metadata,
		Events:     make([]EventDocument, 0, len(s.Events)),
		Children:   make([]SpanDocument, 0, len(s.Children)),
	}
	if s.Closed() {
		end := s.End
		doc.End = &end
	}
	for _, e := range s.Events {
		doc.Events = append(doc.Events, NewEventDocument(e))
	}
	for _, c := range s.Children {
		doc.Children = append(doc.Children, newSpanDocument(c))
	}
	return doc
}

// NewEventDocument converts e.
func NewEventDocument(e model.Event) EventDocument {
	return EventDocument{
		EventType: e.Type,
		Timestamp: e.Timestamp,
		Sequence:  e.Sequence,
		Data:      e.Data,
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// JSON writes t as one indented JSON document.
func JSON(w io.Writer, t *model.Trace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewTraceDocument(t)); err != nil {
		return fmt.Errorf("failed to export json: %w", err)
	}
	return nil
}
