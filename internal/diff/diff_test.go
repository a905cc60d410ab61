package diff

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(t *testing.T, p model.Payload) model.Event {
	t.Helper()
	e, err := model.NewEvent(p.Kind(), p.Data())
	require.NoError(t, err)
	return e
}

// flat builds a trace with a single span holding events in order.
func flat(name string, events ...model.Event) *model.Trace {
	span := &model.Span{ID: name + "-main", Name: "main", Start: base}
	for i, e := range events {
		e.Sequence = int64(i)
		e.Timestamp = base.Add(time.Duration(i+1) * time.Second)
		span.Events = append(span.Events, e)
	}
	span.End = base.Add(time.Duration(len(events)+1) * time.Second)
	return &model.Trace{ID: name, Name: name, StartTime: base, Spans: []*model.Span{span}}
}

func categories(r *Result) []Category {
	var out []Category
	for _, d := range r.Divergences {
		out = append(out, d.Category)
	}
	return out
}

func TestIdenticalTraces(t *testing.T) {
	tr := flat("a",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.ToolCall{Name: "search", Arguments: map[string]any{"q": "go"}}),
		event(t, model.ToolResult{Name: "search", Result: "go.dev"}),
		event(t, model.Decision{Description: "next", Choice: "answer"}),
		event(t, model.Log{Message: "done"}),
	)

	res := Traces(tr, tr)
	assert.True(t, res.Identical())
	assert.Empty(t, res.Divergences)
	assert.Equal(t, "traces are identical", res.Summary())
	assert.Len(t, res.Rows, 5)
}

func TestInsertionReportsSingleExtraEvent(t *testing.T) {
	a := flat("a",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.ToolCall{Name: "search"}),
		event(t, model.ToolResult{Name: "search"}),
	)
	b := flat("b",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.Decision{Description: "extra"}),
		event(t, model.ToolCall{Name: "search"}),
		event(t, model.ToolResult{Name: "search"}),
	)

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	d := res.Divergences[0]
	assert.Equal(t, CategoryExtraEvent, d.Category)
	assert.Equal(t, 2, d.Position)
	assert.Contains(t, d.Description, "decision")
	require.NotNil(t, d.EventB)
	assert.Nil(t, d.EventA)
	assert.Len(t, res.Rows, 4)
}

func TestDeletionReportsSingleMissingEvent(t *testing.T) {
	a := flat("a",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.Error{Message: "rate limited"}),
		event(t, model.LLMRequest{Model: "gpt-4"}),
	)
	b := flat("b",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.LLMRequest{Model: "gpt-4"}),
	)

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	d := res.Divergences[0]
	assert.Equal(t, CategoryMissingEvent, d.Category)
	assert.Equal(t, SeverityCritical, d.Severity)
	assert.Contains(t, d.Description, "rate limited")
}

func TestToolMismatch(t *testing.T) {
	a := flat("a", event(t, model.ToolCall{Name: "search"}))
	b := flat("b", event(t, model.ToolCall{Name: "browse"}))

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	d := res.Divergences[0]
	assert.Equal(t, CategoryToolMismatch, d.Category)
	assert.Equal(t, SeverityCritical, d.Severity)
	assert.Contains(t, d.Description, "search")
	assert.Contains(t, d.Description, "browse")
	assert.Equal(t, 1, res.Critical)
	assert.Equal(t, 0, res.Informational)
}

func TestModelAndStateMismatch(t *testing.T) {
	a := flat("a",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.StateChange{Key: "mode", New: "fast"}),
	)
	b := flat("b",
		event(t, model.LLMRequest{Model: "claude-3"}),
		event(t, model.StateChange{Key: "budget", New: 10}),
	)

	res := Traces(a, b)
	assert.Equal(t, []Category{CategoryModelMismatch, CategoryStateMismatch}, categories(res))
	assert.Equal(t, 2, res.Critical)
}

func TestTypeAndErrorMismatch(t *testing.T) {
	a := flat("a",
		event(t, model.Log{Message: "thinking"}),
		event(t, model.Log{Message: "answering"}),
	)
	b := flat("b",
		event(t, model.Decision{Description: "pick"}),
		event(t, model.Error{Message: "crashed"}),
	)

	res := Traces(a, b)
	assert.Equal(t, []Category{CategoryTypeMismatch, CategoryErrorMismatch}, categories(res))
	for _, d := range res.Divergences {
		assert.Equal(t, SeverityCritical, d.Severity)
	}
}

func TestContentDiffIsInformational(t *testing.T) {
	a := flat("a", event(t, model.LLMResponse{Model: "gpt-4", Content: "Paris", Tokens: 5}))
	b := flat("b", event(t, model.LLMResponse{Model: "gpt-4", Content: "Paris, France", Tokens: 7}))

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	d := res.Divergences[0]
	assert.Equal(t, CategoryContentDiff, d.Category)
	assert.Equal(t, SeverityInformational, d.Severity)
	assert.Contains(t, d.Description, `content: A="Paris" B="Paris, France"`)
	assert.Contains(t, d.Description, "tokens: A=5 B=7")
	assert.Equal(t, "1 divergences (0 critical, 1 informational)", res.Summary())
}

func TestContentDiffTruncatesLongValues(t *testing.T) {
	a := flat("a", event(t, model.Log{Message: strings.Repeat("x", 200)}))
	b := flat("b", event(t, model.Log{Message: strings.Repeat("y", 200)}))

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	assert.Less(t, len(res.Divergences[0].Description), 250)
	assert.Contains(t, res.Divergences[0].Description, "...")
}

func TestDecisionMismatch(t *testing.T) {
	a := flat("a", event(t, model.Decision{Description: "route", Choice: "search"}))
	b := flat("b", event(t, model.Decision{Description: "route", Choice: "answer"}))

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	assert.Equal(t, CategoryDecisionMismatch, res.Divergences[0].Category)
	assert.Equal(t, SeverityCritical, res.Divergences[0].Severity)
}

func TestTimestampsAreIgnored(t *testing.T) {
	a := flat("a", event(t, model.Log{Message: "same"}))
	b := flat("b", event(t, model.Log{Message: "same"}))
	b.Spans[0].Events[0].Timestamp = base.Add(time.Hour)
	b.Spans[0].End = base.Add(2 * time.Hour)

	assert.True(t, Traces(a, b).Identical())
}

func TestEmptyTraces(t *testing.T) {
	empty := &model.Trace{ID: "empty"}
	full := flat("full",
		event(t, model.ToolCall{Name: "search"}),
		event(t, model.Log{Message: "hi"}),
	)

	res := Traces(empty, empty)
	assert.True(t, res.Identical())
	assert.Empty(t, res.Rows)

	res = Traces(empty, full)
	assert.Equal(t, []Category{CategorySpanMismatch, CategoryExtraEvent, CategoryExtraEvent}, categories(res))
	assert.Equal(t, SeverityCritical, res.Divergences[1].Severity)
	assert.Equal(t, SeverityInformational, res.Divergences[2].Severity)

	res = Traces(full, empty)
	assert.Equal(t, []Category{CategorySpanMismatch, CategoryMissingEvent, CategoryMissingEvent}, categories(res))
}

func TestSpanMismatch(t *testing.T) {
	a := flat("a",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.ToolCall{Name: "search"}),
	)
	b := flat("b",
		event(t, model.LLMRequest{Model: "gpt-4"}),
		event(t, model.ToolCall{Name: "search"}),
	)
	// Move B's tool call into a nested span.
	main := b.Spans[0]
	nested := &model.Span{ID: "b-nested", Name: "tools", Start: main.Events[1].Timestamp, End: main.Events[1].Timestamp,
		Events: []model.Event{main.Events[1]}}
	main.Events = main.Events[:1]
	main.Children = []*model.Span{nested}
	require.NoError(t, b.Validate())

	res := Traces(a, b)
	require.Len(t, res.Divergences, 1)
	d := res.Divergences[0]
	assert.Equal(t, CategorySpanMismatch, d.Category)
	assert.Equal(t, SeverityCritical, d.Severity)
	assert.Equal(t, 2, d.Position)
	assert.Contains(t, d.Description, `"main/tools"`)
	assert.Equal(t, "tools", d.SpanB)
}

func TestEmptySpanPositionedByStartTime(t *testing.T) {
	a := flat("a",
		event(t, model.Log{Message: "one"}),
		event(t, model.Log{Message: "two"}),
	)
	b := flat("b",
		event(t, model.Log{Message: "one"}),
		event(t, model.Log{Message: "two"}),
	)
	a.Spans = append(a.Spans, &model.Span{ID: "idle", Name: "idle", Start: base.Add(90 * time.Second), End: base.Add(91 * time.Second)})
	a.Spans[0].Children = []*model.Span{{ID: "wait", Name: "wait", Start: base.Add(1500 * time.Millisecond), End: base.Add(1600 * time.Millisecond)}}

	res := Traces(a, b)
	require.Len(t, res.Divergences, 2)
	assert.Equal(t, 2, res.Divergences[0].Position)
	assert.Contains(t, res.Divergences[0].Description, `"main/wait"`)
	assert.Equal(t, 3, res.Divergences[1].Position)
	assert.Contains(t, res.Divergences[1].Description, `"idle"`)
}

func TestDivergencesAreOrderedByPosition(t *testing.T) {
	a := flat("a",
		event(t, model.ToolCall{Name: "search"}),
		event(t, model.LLMResponse{Content: "x"}),
		event(t, model.ToolCall{Name: "calc"}),
	)
	b := flat("b",
		event(t, model.ToolCall{Name: "browse"}),
		event(t, model.LLMResponse{Content: "y"}),
		event(t, model.ToolCall{Name: "calc"}),
		event(t, model.Log{Message: "tail"}),
	)

	res := Traces(a, b)
	require.Len(t, res.Divergences, 3)
	for i := 1; i < len(res.Divergences); i++ {
		assert.LessOrEqual(t, res.Divergences[i-1].Position, res.Divergences[i].Position)
	}
	assert.Equal(t, []Category{CategoryToolMismatch, CategoryContentDiff, CategoryExtraEvent}, categories(res))
	assert.Len(t, res.BySeverity(SeverityCritical), 1)
	assert.Len(t, res.BySeverity(SeverityInformational), 2)
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	build := func() (*model.Trace, *model.Trace) {
		return flat("a", event(t, model.ToolCall{Name: "search"})),
			flat("b", event(t, model.ToolCall{Name: "browse"}), event(t, model.Log{Message: "x"}))
	}
	a, b := build()
	Traces(a, b)
	wantA, wantB := build()
	assert.Equal(t, wantA, a)
	assert.Equal(t, wantB, b)
}
