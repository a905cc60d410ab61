package recorder

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/store"
	"github.com/capitalize-ai/agentreplay/pkg/logger"
)

// tickingClock advances by one millisecond on every reading.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type memorySink struct {
	header *model.Trace
	spans  []string
	end    time.Time
	closed bool
	err    error
}

func (s *memorySink) WriteHeader(t *model.Trace) error {
	s.header = t
	return nil
}

func (s *memorySink) WriteSpan(sp *model.Span) error {
	s.spans = append(s.spans, sp.Name)
	return s.err
}

func (s *memorySink) WriteEnd(t *model.Trace) error {
	s.end = t.EndTime
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

func newRecorder(t *testing.T, opts ...Option) *Recorder {
	t.Helper()
	r, err := New("test-run", append([]Option{WithClock(tickingClock())}, opts...)...)
	require.NoError(t, err)
	return r
}

func mustRecord(t *testing.T, r *Recorder, p model.Payload) model.Event {
	t.Helper()
	e, err := r.Emit(p)
	require.NoError(t, err)
	return e
}

func TestRecordsNestedSpans(t *testing.T) {
	r := newRecorder(t, WithMetadata(map[string]any{"agent": "planner", "temperature": 0}))

	outer, err := r.StartSpan("plan")
	require.NoError(t, err)
	mustRecord(t, r, model.LLMRequest{Model: "gpt-4"})

	inner, err := r.StartSpan("search")
	require.NoError(t, err)
	mustRecord(t, r, model.ToolCall{Name: "search"})
	mustRecord(t, r, model.ToolResult{Name: "search", Result: "ok"})
	require.NoError(t, inner.End())

	mustRecord(t, r, model.Decision{Description: "answer", Choice: "reply"})
	require.NoError(t, outer.End())

	tr, err := r.Finish()
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	assert.Equal(t, "test-run", tr.Name)
	assert.NotEmpty(t, tr.ID)
	assert.Equal(t, map[string]any{"agent": "planner", "temperature": float64(0)}, tr.Metadata)
	require.Len(t, tr.Spans, 1)
	plan := tr.Spans[0]
	assert.Equal(t, "plan", plan.Name)
	require.Len(t, plan.Children, 1)
	assert.Equal(t, "search", plan.Children[0].Name)
	assert.Len(t, plan.Events, 2)
	assert.Len(t, plan.Children[0].Events, 2)

	steps := tr.Flatten()
	require.Len(t, steps, 4)
	want := []model.EventType{model.EventLLMRequest, model.EventToolCall, model.EventToolResult, model.EventDecision}
	for i, s := range steps {
		assert.Equal(t, int64(i), s.Event.Sequence)
		assert.Equal(t, want[i], s.Event.Type)
	}

	assert.False(t, tr.EndTime.Before(plan.End))
	assert.True(t, plan.Start.Before(plan.Children[0].Start))
	assert.True(t, plan.Children[0].End.Before(plan.End))
}

func TestOrphanEventsGoToDefaultSpan(t *testing.T) {
	r := newRecorder(t)

	mustRecord(t, r, model.Log{Message: "booting"})
	mustRecord(t, r, model.Log{Message: "ready"})
	require.NoError(t, r.WithSpan("work", func() error {
		_, err := r.Emit(model.StateChange{Key: "status", Old: "idle", New: "busy"})
		return err
	}))
	mustRecord(t, r, model.Log{Message: "done"})

	tr, err := r.Finish()
	require.NoError(t, err)
	require.NoError(t, tr.Validate())

	require.Len(t, tr.Spans, 3)
	assert.Equal(t, DefaultSpanName, tr.Spans[0].Name)
	assert.Len(t, tr.Spans[0].Events, 2)
	assert.Equal(t, "work", tr.Spans[1].Name)
	assert.Equal(t, DefaultSpanName, tr.Spans[2].Name)
	assert.Equal(t, int64(3), tr.Spans[2].Events[0].Sequence)
	assert.NotEqual(t, tr.Spans[0].ID, tr.Spans[2].ID)
}

func TestNestingViolationAbortsSession(t *testing.T) {
	sink := &memorySink{}
	r := newRecorder(t, WithSink(sink))

	first, err := r.StartSpan("first")
	require.NoError(t, err)
	require.NoError(t, first.End())

	outer, err := r.StartSpan("outer")
	require.NoError(t, err)
	_, err = r.StartSpan("inner")
	require.NoError(t, err)

	err = outer.End()
	var nesting *SpanNestingError
	require.ErrorAs(t, err, &nesting)
	assert.Equal(t, "outer", nesting.Span)
	assert.Equal(t, "inner", nesting.Open)
	assert.ErrorIs(t, err, ErrSpanNesting)

	_, err = r.Emit(model.Log{Message: "late"})
	assert.ErrorIs(t, err, ErrSessionAborted)
	assert.ErrorIs(t, err, ErrSpanNesting)
	_, err = r.StartSpan("again")
	assert.ErrorIs(t, err, ErrSessionAborted)
	assert.ErrorIs(t, outer.End(), ErrSessionAborted)

	tr, err := r.Finish()
	assert.ErrorIs(t, err, ErrSessionAborted)
	require.NotNil(t, tr)
	assert.Equal(t, "first", tr.Spans[0].Name)
	assert.True(t, tr.Spans[0].Closed())
	assert.True(t, sink.closed)
}

func TestWithSpanClosesOnError(t *testing.T) {
	r := newRecorder(t)
	boom := errors.New("tool exploded")

	err := r.WithSpan("call", func() error {
		mustRecord(t, r, model.ToolCall{Name: "search"})
		return boom
	})
	assert.Equal(t, boom, err)

	tr, err := r.Finish()
	require.NoError(t, err)
	require.Len(t, tr.Spans, 1)
	span := tr.Spans[0]
	assert.True(t, span.Closed())
	require.Len(t, span.Events, 2)
	assert.Equal(t, model.EventError, span.Events[1].Type)
	assert.Equal(t, "tool exploded", span.Events[1].Data["message"])
	assert.Equal(t, "*errors.errorString", span.Events[1].Data["exception"])
}

func TestWithSpanClosesOnPanic(t *testing.T) {
	r := newRecorder(t)

	assert.PanicsWithValue(t, "bad state", func() {
		_ = r.WithSpan("fragile", func() error {
			panic("bad state")
		})
	})

	// The recorder is still usable after the panic.
	mustRecord(t, r, model.Log{Message: "recovered"})

	tr, err := r.Finish()
	require.NoError(t, err)
	require.Len(t, tr.Spans, 2)
	fragile := tr.Spans[0]
	assert.True(t, fragile.Closed())
	require.Len(t, fragile.Events, 1)
	assert.Equal(t, "bad state", fragile.Events[0].Data["message"])
	assert.Equal(t, "panic", fragile.Events[0].Data["exception"])
}

func TestWithSpanPanicLogsCloseFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := &memorySink{err: errors.New("disk full")}
	r := newRecorder(t, WithSink(sink), WithLogger(&logger.Logger{Logger: zap.New(core)}))

	assert.PanicsWithValue(t, "bad state", func() {
		_ = r.WithSpan("fragile", func() error {
			panic("bad state")
		})
	})

	entries := logs.FilterMessage("Failed to close span after panic").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "fragile", entries[0].ContextMap()["span"])
	assert.Contains(t, entries[0].ContextMap()["error"], "disk full")
}

func TestEndIsIdempotent(t *testing.T) {
	r := newRecorder(t)
	s, err := r.StartSpan("once")
	require.NoError(t, err)

	require.NoError(t, s.End())
	end := s.Span().End
	require.NoError(t, s.End())
	assert.Equal(t, end, s.Span().End)
}

func TestFinishClosesOpenSpansAndStopsRecording(t *testing.T) {
	r := newRecorder(t)
	_, err := r.StartSpan("outer")
	require.NoError(t, err)
	_, err = r.StartSpan("inner")
	require.NoError(t, err)
	mustRecord(t, r, model.Log{Message: "mid"})

	tr, err := r.Finish()
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	require.Len(t, tr.Spans, 1)
	assert.True(t, tr.Spans[0].Closed())
	assert.True(t, tr.Spans[0].Children[0].Closed())

	_, err = r.Emit(model.Log{Message: "after"})
	assert.ErrorIs(t, err, ErrFinished)
	_, err = r.StartSpan("after")
	assert.ErrorIs(t, err, ErrFinished)
	_, err = r.Finish()
	assert.ErrorIs(t, err, ErrFinished)
}

func TestInvalidPayloadDoesNotConsumeSequence(t *testing.T) {
	r := newRecorder(t)

	_, err := r.Record(model.EventToolCall, map[string]any{"arguments": map[string]any{}})
	assert.ErrorIs(t, err, model.ErrInvalidPayload)
	_, err = r.Record(model.EventType("thought"), map[string]any{})
	assert.ErrorIs(t, err, model.ErrUnknownEventType)

	e := mustRecord(t, r, model.Log{Message: "first real event"})
	assert.Equal(t, int64(0), e.Sequence)
}

func TestAnnotate(t *testing.T) {
	r := newRecorder(t)
	s, err := r.StartSpan("annotated")
	require.NoError(t, err)

	require.NoError(t, s.Annotate("attempt", 2))
	require.NoError(t, s.Annotate("tags", []string{"a", "b"}))
	assert.Error(t, s.Annotate("bad", func() {}))
	require.NoError(t, s.End())
	assert.Error(t, s.Annotate("late", true))

	assert.Equal(t, map[string]any{"attempt": float64(2), "tags": []any{"a", "b"}}, s.Span().Metadata)
}

func TestClockNeverRunsBackwards(t *testing.T) {
	readings := []time.Time{
		time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 5, 0, time.UTC),
		time.Date(2026, 1, 1, 0, 0, 12, 987654321, time.UTC),
	}
	i := 0
	clock := func() time.Time {
		t := readings[i%len(readings)]
		i++
		return t
	}
	r, err := New("clock", WithClock(clock), WithTraceID("fixed-id"))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", r.ID())

	// Readings: trace start, default span start, e1, e2.
	e1 := mustRecord(t, r, model.Log{Message: "a"})
	e2 := mustRecord(t, r, model.Log{Message: "b"})

	tr, err := r.Finish()
	require.NoError(t, err)
	truncated := time.Date(2026, 1, 1, 0, 0, 12, 987654000, time.UTC)

	assert.Equal(t, readings[0], tr.StartTime)
	assert.Equal(t, readings[0], tr.Spans[0].Start)
	assert.Equal(t, truncated, e1.Timestamp)
	assert.Equal(t, truncated, e2.Timestamp)
	require.NoError(t, tr.Validate())
}

func TestConcurrentRecordingKeepsSequencesUnique(t *testing.T) {
	r := newRecorder(t)
	scope, err := r.StartSpan("fanout")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := r.Emit(model.Log{Message: "tick"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, scope.End())

	tr, err := r.Finish()
	require.NoError(t, err)
	require.NoError(t, tr.Validate())
	assert.Equal(t, 400, tr.EventCount())
}

func TestSinkReceivesTopLevelSpans(t *testing.T) {
	sink := &memorySink{}
	r := newRecorder(t, WithSink(sink))
	require.NotNil(t, sink.header)
	assert.Equal(t, r.ID(), sink.header.ID)

	require.NoError(t, r.WithSpan("a", func() error {
		return r.WithSpan("a.1", func() error { return nil })
	}))
	mustRecord(t, r, model.Log{Message: "orphan"})
	require.NoError(t, r.WithSpan("b", func() error { return nil }))

	tr, err := r.Finish()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", DefaultSpanName, "b"}, sink.spans)
	assert.Equal(t, tr.EndTime, sink.end)
	assert.True(t, sink.closed)
}

func TestSinkErrorIsReported(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	r := newRecorder(t, WithSink(sink))

	err := r.WithSpan("a", func() error { return nil })
	assert.ErrorContains(t, err, "disk full")

	tr, err := r.Finish()
	require.NoError(t, err)
	assert.Len(t, tr.Spans, 1)
}

func TestRecordedTraceSurvivesPersistence(t *testing.T) {
	dir := t.TempDir()
	livePath := filepath.Join(dir, "live.jsonl")
	sink, err := store.OpenFileSink(livePath)
	require.NoError(t, err)

	r := newRecorder(t, WithSink(sink), WithMetadata(map[string]any{"run": 7}))
	require.NoError(t, r.WithSpan("plan", func() error {
		mustRecord(t, r, model.LLMRequest{Model: "gpt-4", Messages: []any{map[string]any{"role": "user", "content": "hi"}}})
		mustRecord(t, r, model.LLMResponse{Model: "gpt-4", Content: "hello", Tokens: 12})
		return r.WithSpan("tool", func() error {
			mustRecord(t, r, model.ToolCall{Name: "calc", Arguments: map[string]any{"expr": "1+1"}})
			mustRecord(t, r, model.ToolResult{Name: "calc", Result: 2})
			return nil
		})
	}))
	mustRecord(t, r, model.Log{Message: "bye", Level: "debug"})

	tr, err := r.Finish()
	require.NoError(t, err)

	savedPath := filepath.Join(dir, "saved.jsonl")
	require.NoError(t, store.Save(savedPath, tr))
	saved, err := store.Load(savedPath)
	require.NoError(t, err)
	assert.Equal(t, tr, saved)

	live, err := store.Load(livePath)
	require.NoError(t, err)
	assert.Equal(t, tr, live)
}
