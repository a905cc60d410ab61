package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)

func at(ms int) time.Time {
	return base.Add(time.Duration(ms) * time.Millisecond)
}

func fixture() *model.Trace {
	fetch := &model.Span{
		ID: "span-fetch", Name: "fetch", Start: at(20), End: at(40),
		Metadata: map[string]any{"attempt": float64(1)},
		Events: []model.Event{
			{Type: model.EventToolCall, Timestamp: at(21), Sequence: 1, Data: map[string]any{
				"name": "search", "arguments": map[string]any{"q": "weather", "limit": float64(3)},
			}},
			{Type: model.EventToolResult, Timestamp: at(39), Sequence: 2, Data: map[string]any{
				"name": "search", "result": []any{"sunny", nil, true},
			}},
		},
	}
	plan := &model.Span{
		ID: "span-plan", Name: "plan", Start: at(10), End: at(60),
		Events: []model.Event{
			{Type: model.EventLLMRequest, Timestamp: at(11), Sequence: 0, Data: map[string]any{
				"model": "gpt-4", "messages": []any{map[string]any{"role": "user", "content": "hi"}},
			}},
			{Type: model.EventDecision, Timestamp: at(50), Sequence: 3, Data: map[string]any{
				"description": "reply", "choice": "answer",
			}},
		},
		Children: []*model.Span{fetch},
	}
	open := &model.Span{
		ID: "span-open", Name: "reply", Start: at(70),
		Events: []model.Event{
			{Type: model.EventLog, Timestamp: at(71), Sequence: 4, Data: map[string]any{}},
		},
	}
	return &model.Trace{
		ID: "0190d3c1-trace", Name: "weather-bot",
		StartTime: at(0), EndTime: at(100),
		Metadata: map[string]any{"env": "test", "version": float64(2)},
		Spans:    []*model.Span{plan, open},
	}
}

func TestRoundTrip(t *testing.T) {
	want := fixture()
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestRoundTripWithoutOptionalFields(t *testing.T) {
	want := &model.Trace{ID: "t", Name: "empty", StartTime: base}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, want))
	encoded := buf.String()
	got, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Contains(t, encoded, `"metadata":{}`)
	assert.NotContains(t, encoded, "end_time")
}

func TestEncodeLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, fixture()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], `{"type":"trace_header","trace_id":"0190d3c1-trace"`))
	assert.True(t, strings.HasPrefix(lines[1], `{"type":"span","span_id":"span-plan"`))
	assert.Contains(t, lines[2], `"end":null`)
	assert.Contains(t, lines[2], `"children":[]`)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(filepath.Join(dir, "a.jsonl"), fixture()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.jsonl", entries[0].Name())
}

func TestDecodeFoldsLegacyHeaderMetadata(t *testing.T) {
	input := `{"type":"trace_header","trace_id":"abc","name":"run","start_time":1700000000.5,"agent":"v1","tags":["a"]}
{"type":"span","name":"main","start":1700000000.5,"end":1700000001,"events":[{"event_type":"log","timestamp":1700000000.75,"sequence":0,"data":{"message":"hi","level":"info"}}],"children":[]}
`
	got, err := Decode(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"agent": "v1", "tags": []any{"a"}}, got.Metadata)
	require.Len(t, got.Spans, 1)
	assert.Equal(t, "span-1", got.Spans[0].ID)
	assert.Equal(t, time.UnixMicro(1700000000750000).UTC(), got.Spans[0].Events[0].Timestamp)
	assert.True(t, got.EndTime.IsZero())
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	input := "\n" + `{"type":"trace_header","trace_id":"abc","name":"run","start_time":1}` + "\n\n  \n"
	got, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ID)
	assert.Empty(t, got.Spans)
}

func TestDecodeErrors(t *testing.T) {
	header := `{"type":"trace_header","trace_id":"abc","name":"run","start_time":1}`
	span := func(events string) string {
		return `{"type":"span","span_id":"s","name":"main","start":1,"end":2,"events":[` + events + `],"children":[]}`
	}

	tests := []struct {
		name     string
		input    string
		wantLine int
		reason   string
	}{
		{"empty input", "", 0, "missing trace_header"},
		{"not json", header + "\n{not json", 2, "invalid JSON"},
		{"not an object", "[1,2]", 1, "expected a JSON object"},
		{"span first", span(""), 1, "span before trace_header"},
		{"duplicate header", header + "\n" + header, 2, "duplicate trace_header"},
		{"unknown record", header + "\n" + `{"type":"blob"}`, 2, "unknown record type"},
		{"header without id", `{"type":"trace_header","name":"run","start_time":1}`, 1, `"trace_id"`},
		{"start is a string", `{"type":"trace_header","trace_id":"a","name":"run","start_time":"now"}`, 1, "must be a number"},
		{"unknown event type", header + "\n" + span(`{"event_type":"thought","timestamp":1,"sequence":0,"data":{}}`), 2, "unknown event type"},
		{"fractional sequence", header + "\n" + span(`{"event_type":"log","timestamp":1,"sequence":1.5,"data":{}}`), 2, "non-negative integer"},
		{"negative sequence", header + "\n" + span(`{"event_type":"log","timestamp":1,"sequence":-1,"data":{}}`), 2, "non-negative integer"},
		{"sequence out of order", header + "\n" + span(
			`{"event_type":"log","timestamp":1,"sequence":3,"data":{}},{"event_type":"log","timestamp":1,"sequence":2,"data":{}}`,
		), 2, "not greater"},
		{"sequence reused across spans", header + "\n" + span(`{"event_type":"log","timestamp":1,"sequence":0,"data":{}}`) + "\n" +
			strings.Replace(span(`{"event_type":"log","timestamp":1,"sequence":0,"data":{}}`), `"span_id":"s"`, `"span_id":"t"`, 1),
			3, "duplicate sequence"},
		{"duplicate span id", header + "\n" + span("") + "\n" + span(""), 3, "duplicate span_id"},
		{"end before header", `{"type":"trace_end","end_time":2}`, 1, "trace_end before trace_header"},
		{"duplicate end", header + "\n" + `{"type":"trace_end","end_time":2}` + "\n" + `{"type":"trace_end","end_time":3}`, 3, "duplicate trace_end"},
		{"end without time", header + "\n" + `{"type":"trace_end"}`, 2, `"end_time"`},
		{"data not an object", header + "\n" + span(`{"event_type":"log","timestamp":1,"sequence":0,"data":[]}`), 2, "data must be an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, ErrParse))

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantLine, pe.Line)
			assert.Contains(t, pe.Reason, tt.reason)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoadWrapsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n"), 0644))

	_, err := Load(path)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Line)
	assert.Contains(t, err.Error(), path)
}

func TestFileSinkProducesLoadableTrace(t *testing.T) {
	tr := fixture()
	path := filepath.Join(t.TempDir(), "live.jsonl")

	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, path, sink.Path())

	header := *tr
	header.EndTime = time.Time{}
	require.NoError(t, sink.WriteHeader(&header))
	require.NoError(t, sink.WriteSpan(tr.Spans[0]))

	// A reader sees every span written so far.
	partial, err := Load(path)
	require.NoError(t, err)
	require.Len(t, partial.Spans, 1)
	assert.Equal(t, tr.Spans[0], partial.Spans[0])

	require.NoError(t, sink.WriteSpan(tr.Spans[1]))
	assert.True(t, partial.EndTime.IsZero())
	assert.Error(t, sink.WriteEnd(&header))

	require.NoError(t, sink.WriteEnd(tr))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.ErrorIs(t, sink.WriteSpan(tr.Spans[1]), ErrSinkClosed)
	assert.ErrorIs(t, sink.WriteEnd(tr), ErrSinkClosed)

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, tr, got)
}

func TestEpochRoundTrip(t *testing.T) {
	for _, ts := range []time.Time{
		base,
		time.UnixMicro(1).UTC(),
		time.Date(2099, 12, 31, 23, 59, 59, 999999000, time.UTC),
	} {
		assert.Equal(t, ts, fromEpoch(toEpoch(ts)))
	}
}
