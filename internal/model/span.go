package model

import (
	"time"
)

// Span is a named, time-bounded unit of work. A span owns its events and
// child spans exclusively; children hold no reference back to the parent.
type Span struct {
	ID   string
	Name string

	Start time.Time
	// End is zero while the span is open and set exactly once on close.
	End time.Time

	// Events are ordered by Sequence.
	Events []Event
	// Children are ordered by creation.
	Children []*Span

	Metadata map[string]any
}

// Closed reports whether the span has been closed.
func (s *Span) Closed() bool {
	return !s.End.IsZero()
}

// Duration is End-Start for a closed span and zero for an open one.
func (s *Span) Duration() time.Duration {
	if !s.Closed() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// EventCount counts the events owned by s and all of its descendants.
func (s *Span) EventCount() int {
	n := len(s.Events)
	for _, c := range s.Children {
		n += c.EventCount()
	}
	return n
}

// walk visits s and its descendants in pre-order.
func (s *Span) walk(depth int, fn func(*Span, int) bool) bool {
	if !fn(s, depth) {
		return false
	}
	for _, c := range s.Children {
		if !c.walk(depth+1, fn) {
			return false
		}
	}
	return true
}

// latest returns the latest instant covered by s: its end when closed, and
// otherwise the newest of its start, event timestamps and descendants.
func (s *Span) latest() time.Time {
	if s.Closed() {
		return s.End
	}
	t := s.Start
	for _, e := range s.Events {
		if e.Timestamp.After(t) {
			t = e.Timestamp
		}
	}
	for _, c := range s.Children {
		if ct := c.latest(); ct.After(t) {
			t = ct
		}
	}
	return t
}
