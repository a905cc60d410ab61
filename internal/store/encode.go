// Package store reads and writes the line-delimited trace format.
//
// A persisted trace is one JSON object per line: a trace_header line first,
// then one span line per top-level span in recording order. Nested spans are
// embedded under their parent's "children". A trace written while it was
// recorded may close with a trace_end line carrying its end_time.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

const (
	recordHeader = "trace_header"
	recordSpan   = "span"
	recordEnd    = "trace_end"
)

type headerRecord struct {
	Type      string         `json:"type"`
	TraceID   string         `json:"trace_id"`
	Name      string         `json:"name"`
	StartTime float64        `json:"start_time"`
	EndTime   *float64       `json:"end_time,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

type endRecord struct {
	Type    string  `json:"type"`
	EndTime float64 `json:"end_time"`
}

type spanRecord struct {
	Type     string         `json:"type,omitempty"`
	SpanID   string         `json:"span_id"`
	Name     string         `json:"name"`
	Start    float64        `json:"start"`
	End      *float64       `json:"end"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Events   []eventRecord  `json:"events"`
	Children []spanRecord   `json:"children"`
}

type eventRecord struct {
	EventType string         `json:"event_type"`
	Timestamp float64        `json:"timestamp"`
	Sequence  int64          `json:"sequence"`
	Data      map[string]any `json:"data"`
}

// toEpoch converts t to fractional Unix seconds at microsecond precision.
func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// fromEpoch is the inverse of toEpoch; rounding to the nearest microsecond
// makes the round trip exact.
func fromEpoch(sec float64) time.Time {
	return time.UnixMicro(int64(math.Round(sec * 1e6))).UTC()
}

func optionalEpoch(t time.Time) *float64 {
	if t.IsZero() {
		return nil
	}
	v := toEpoch(t)
	return &v
}

func newHeaderRecord(t *model.Trace) headerRecord {
	meta := t.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return headerRecord{
		Type:      recordHeader,
		TraceID:   t.ID,
		Name:      t.Name,
		StartTime: toEpoch(t.StartTime),
		EndTime:   optionalEpoch(t.EndTime),
		Metadata:  meta,
	}
}

func newSpanRecord(s *model.Span) spanRecord {
	rec := spanRecord{
		SpanID:   s.ID,
		Name:     s.Name,
		Start:    toEpoch(s.Start),
		End:      optionalEpoch(s.End),
		Metadata: s.Metadata,
		Events:   make([]eventRecord, 0, len(s.Events)),
		Children: make([]spanRecord, 0, len(s.Children)),
	}
	for _, e := range s.Events {
		data := e.Data
		if data == nil {
			data = map[string]any{}
		}
		rec.Events = append(rec.Events, eventRecord{
			EventType: string(e.Type),
			Timestamp: toEpoch(e.Timestamp),
			Sequence:  e.Sequence,
			Data:      data,
		})
	}
	for _, c := range s.Children {
		rec.Children = append(rec.Children, newSpanRecord(c))
	}
	return rec
}

// EncodeHeader writes the trace_header line of t.
func EncodeHeader(w io.Writer, t *model.Trace) error {
	return writeLine(w, newHeaderRecord(t))
}

// EncodeSpan writes s as one top-level span line.
func EncodeSpan(w io.Writer, s *model.Span) error {
	rec := newSpanRecord(s)
	rec.Type = recordSpan
	return writeLine(w, rec)
}

// EncodeEnd writes the trace_end line holding the end time of t.
func EncodeEnd(w io.Writer, t *model.Trace) error {
	if t.EndTime.IsZero() {
		return fmt.Errorf("trace %s has no end time", t.ID)
	}
	return writeLine(w, endRecord{Type: recordEnd, EndTime: toEpoch(t.EndTime)})
}

// Encode writes the header and every top-level span of t.
func Encode(w io.Writer, t *model.Trace) error {
	bw := bufio.NewWriter(w)
	if err := EncodeHeader(bw, t); err != nil {
		return err
	}
	for _, s := range t.Spans {
		if err := EncodeSpan(bw, s); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeLine(w io.Writer, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// Save writes t to path. The file is written to a temporary sibling first and
// renamed into place, so readers never observe a half-written trace.
func Save(path string, t *model.Trace) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close trace: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move trace into place: %w", err)
	}
	return nil
}
