// Package replay steps through a recorded trace one event at a time.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/store"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
)

// ErrOutOfRange is matched by every *RangeError.
var ErrOutOfRange = errors.New("replay position out of range")

// RangeError reports a navigation past either end of the trace.
type RangeError struct {
	Op       string
	Target   int
	Position int
	Len      int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: position %d outside [0, %d) (cursor at %d)", e.Op, e.Target, e.Len, e.Position)
}

func (e *RangeError) Unwrap() error {
	return ErrOutOfRange
}

// State names where the cursor is.
type State string

const (
	StateBeforeStart State = "before_start"
	StateAt          State = "at"
	StateAfterEnd    State = "after_end"
)

// Engine is a cursor over the flattened view of a trace. The cursor counts
// the events already replayed: 0 is before the first event and Len() is past
// the last. Step returns the event under the cursor and moves past it;
// StepBack moves back over the previous event and returns it, so N steps
// followed by N steps back restore the original position.
//
// Engine never mutates its trace. It is not safe for concurrent use.
type Engine struct {
	trace *model.Trace
	steps []model.Step
	pos   int
}

// New creates an engine positioned before the first event.
func New(t *model.Trace) *Engine {
	return &Engine{trace: t, steps: t.Flatten()}
}

// Open loads the trace at path and creates an engine for it.
func Open(path string) (*Engine, error) {
	t, err := store.Load(path)
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

func (e *Engine) Trace() *model.Trace { return e.trace }

// Len is the number of events in the trace.
func (e *Engine) Len() int { return len(e.steps) }

// Position is the number of events already replayed.
func (e *Engine) Position() int { return e.pos }

// State classifies the cursor by the number of events already replayed:
// before_start when none has been, after_end when all have been, at
// otherwise. Jump(n) moves the cursor onto event n with n events behind it,
// so Jump(0) reports before_start while Peek returns event 0.
func (e *Engine) State() State {
	switch {
	case e.pos == 0:
		return StateBeforeStart
	case e.pos >= len(e.steps):
		return StateAfterEnd
	default:
		return StateAt
	}
}

func (e *Engine) HasNext() bool { return e.pos < len(e.steps) }

func (e *Engine) HasPrev() bool { return e.pos > 0 }

// Step returns the next event and advances past it.
func (e *Engine) Step() (model.Step, error) {
	if !e.HasNext() {
		return e.fail("step", e.pos)
	}
	s := e.steps[e.pos]
	e.pos++
	metrics.RecordReplayStep("step", nil)
	return s, nil
}

// StepBack moves back one event and returns it.
func (e *Engine) StepBack() (model.Step, error) {
	if !e.HasPrev() {
		return e.fail("step_back", e.pos-1)
	}
	e.pos--
	metrics.RecordReplayStep("step_back", nil)
	return e.steps[e.pos], nil
}

// Jump moves the cursor to event n, where n is in [0, Len()), and returns
// that event. On failure the cursor does not move.
func (e *Engine) Jump(n int) (model.Step, error) {
	if n < 0 || n >= len(e.steps) {
		return e.fail("jump", n)
	}
	e.pos = n
	metrics.RecordReplayStep("jump", nil)
	return e.steps[n], nil
}

// Peek returns the event under the cursor without moving.
func (e *Engine) Peek() (model.Step, error) {
	if !e.HasNext() {
		return model.Step{}, &RangeError{Op: "peek", Target: e.pos, Position: e.pos, Len: len(e.steps)}
	}
	return e.steps[e.pos], nil
}

// Reset moves the cursor before the first event.
func (e *Engine) Reset() {
	e.pos = 0
}

// At returns event i without moving the cursor.
func (e *Engine) At(i int) (model.Step, error) {
	if i < 0 || i >= len(e.steps) {
		return model.Step{}, &RangeError{Op: "at", Target: i, Position: e.pos, Len: len(e.steps)}
	}
	return e.steps[i], nil
}

// Search returns the indexes of the events whose span name, event type or
// data contains query, ignoring case.
func (e *Engine) Search(query string) []int {
	q := strings.ToLower(query)
	if q == "" {
		return nil
	}
	var hits []int
	for i, s := range e.steps {
		if matches(s, q) {
			hits = append(hits, i)
		}
	}
	return hits
}

// SpanEvents returns every flattened step owned by the span of the event
// under the cursor, or nil after the end.
func (e *Engine) SpanEvents() []model.Step {
	cur, err := e.Peek()
	if err != nil {
		return nil
	}
	var out []model.Step
	for _, s := range e.steps {
		if s.Span == cur.Span {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) fail(op string, target int) (model.Step, error) {
	err := &RangeError{Op: op, Target: target, Position: e.pos, Len: len(e.steps)}
	metrics.RecordReplayStep(op, err)
	return model.Step{}, err
}

func matches(s model.Step, q string) bool {
	if strings.Contains(strings.ToLower(s.Span.Name), q) ||
		strings.Contains(string(s.Event.Type), q) {
		return true
	}
	raw, err := json.Marshal(s.Event.Data)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), q)
}
