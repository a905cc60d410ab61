package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidTrace is wrapped by every Validate failure.
var ErrInvalidTrace = errors.New("invalid trace")

// Trace is the root aggregate of one recorded agent run.
type Trace struct {
	ID        string
	Name      string
	StartTime time.Time
	// EndTime is set when the recording finishes; zero otherwise.
	EndTime  time.Time
	Metadata map[string]any

	// Spans is the ordered forest of top-level spans.
	Spans []*Span
}

// Step is one entry of the flattened view: an event together with the span
// that owns it.
type Step struct {
	Span  *Span
	Event Event
	// Depth is the nesting level of Span, 0 for top-level spans.
	Depth int
}

// Walk visits every span in pre-order. Returning false from fn stops the walk.
func (t *Trace) Walk(fn func(span *Span, depth int) bool) {
	for _, s := range t.Spans {
		if !s.walk(0, fn) {
			return
		}
	}
}

// EventCount is the total number of events across all spans.
func (t *Trace) EventCount() int {
	n := 0
	for _, s := range t.Spans {
		n += s.EventCount()
	}
	return n
}

// SpanCount is the total number of spans, nested ones included.
func (t *Trace) SpanCount() int {
	n := 0
	t.Walk(func(*Span, int) bool {
		n++
		return true
	})
	return n
}

// SpanByID finds a span anywhere in the tree.
func (t *Trace) SpanByID(id string) (*Span, bool) {
	var found *Span
	t.Walk(func(s *Span, _ int) bool {
		if s.ID == id {
			found = s
			return false
		}
		return true
	})
	return found, found != nil
}

// Duration spans from the earliest span start to the latest span end, using
// event timestamps for spans that are still open.
func (t *Trace) Duration() time.Duration {
	if len(t.Spans) == 0 {
		return 0
	}
	first := t.Spans[0].Start
	last := t.Spans[0].latest()
	for _, s := range t.Spans[1:] {
		if s.Start.Before(first) {
			first = s.Start
		}
		if l := s.latest(); l.After(last) {
			last = l
		}
	}
	return last.Sub(first)
}

// Flatten linearizes the span tree into one sequence ordered by event
// Sequence, which is the order the events were recorded in.
func (t *Trace) Flatten() []Step {
	steps := make([]Step, 0, t.EventCount())
	t.Walk(func(s *Span, depth int) bool {
		for _, e := range s.Events {
			steps = append(steps, Step{Span: s, Event: e, Depth: depth})
		}
		return true
	})
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Event.Sequence < steps[j].Event.Sequence
	})
	return steps
}

// Validate checks the structural invariants: unique span ids, unique
// non-negative sequences ordered within each span, and lifetime containment
// for closed spans.
func (t *Trace) Validate() error {
	spanIDs := make(map[string]bool)
	sequences := make(map[int64]string)

	var check func(s *Span, parent *Span) error
	check = func(s *Span, parent *Span) error {
		if s.ID == "" {
			return fmt.Errorf("%w: span %q has no id", ErrInvalidTrace, s.Name)
		}
		if spanIDs[s.ID] {
			return fmt.Errorf("%w: duplicate span id %q", ErrInvalidTrace, s.ID)
		}
		spanIDs[s.ID] = true

		if s.Closed() && s.End.Before(s.Start) {
			return fmt.Errorf("%w: span %q ends before it starts", ErrInvalidTrace, s.Name)
		}
		if parent != nil && parent.Closed() {
			if !s.Closed() {
				return fmt.Errorf("%w: span %q is open inside closed span %q", ErrInvalidTrace, s.Name, parent.Name)
			}
			if s.Start.Before(parent.Start) || s.End.After(parent.End) {
				return fmt.Errorf("%w: span %q escapes parent %q", ErrInvalidTrace, s.Name, parent.Name)
			}
		}

		prev := int64(-1)
		for _, e := range s.Events {
			if e.Sequence < 0 {
				return fmt.Errorf("%w: negative sequence %d in span %q", ErrInvalidTrace, e.Sequence, s.Name)
			}
			if e.Sequence <= prev {
				return fmt.Errorf("%w: sequence %d out of order in span %q", ErrInvalidTrace, e.Sequence, s.Name)
			}
			prev = e.Sequence
			if owner, dup := sequences[e.Sequence]; dup {
				return fmt.Errorf("%w: sequence %d used by spans %q and %q", ErrInvalidTrace, e.Sequence, owner, s.Name)
			}
			sequences[e.Sequence] = s.Name

			if s.Closed() && (e.Timestamp.Before(s.Start) || e.Timestamp.After(s.End)) {
				return fmt.Errorf("%w: event %d lies outside span %q", ErrInvalidTrace, e.Sequence, s.Name)
			}
		}

		for _, c := range s.Children {
			if err := check(c, s); err != nil {
				return err
			}
		}
		return nil
	}

	for _, s := range t.Spans {
		if err := check(s, nil); err != nil {
			return err
		}
	}
	return nil
}
