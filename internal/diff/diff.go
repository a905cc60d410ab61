// Package diff compares two traces of the same agent.
//
// The flattened event sequences of both traces are aligned with a global
// edit-distance alignment keyed on event type and identity (tool name, model,
// state key), so one inserted or removed event is reported once instead of
// shifting every later comparison. Aligned pairs that differ, unmatched
// events and unmatched spans become Divergences.
package diff

import (
	"fmt"
	"sort"
	"time"

	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/pkg/metrics"
)

// Severity ranks a divergence.
type Severity string

const (
	// SeverityCritical marks a change in control flow.
	SeverityCritical Severity = "critical"
	// SeverityInformational marks a payload change that kept control flow.
	SeverityInformational Severity = "informational"
)

// Category classifies a divergence.
type Category string

const (
	CategoryTypeMismatch     Category = "type_mismatch"
	CategoryErrorMismatch    Category = "error_mismatch"
	CategoryToolMismatch     Category = "tool_mismatch"
	CategoryModelMismatch    Category = "model_mismatch"
	CategoryStateMismatch    Category = "state_mismatch"
	CategoryDecisionMismatch Category = "decision_mismatch"
	CategoryContentDiff      Category = "content_diff"
	CategoryMissingEvent     Category = "missing_event"
	CategoryExtraEvent       Category = "extra_event"
	CategorySpanMismatch     Category = "span_mismatch"
)

// Divergence is one classified difference between two traces.
type Divergence struct {
	// Position is the 1-based alignment row the divergence belongs to.
	Position    int      `json:"position"`
	Severity    Severity `json:"severity"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	// SpanA and SpanB name the spans involved, empty for the absent side.
	SpanA string `json:"span_a,omitempty"`
	SpanB string `json:"span_b,omitempty"`

	EventA *model.Event `json:"-"`
	EventB *model.Event `json:"-"`
}

// Row is one alignment row. A nil side is a gap: the other side's event has
// no counterpart.
type Row struct {
	A *model.Step
	B *model.Step
}

// Result is the outcome of comparing trace A with trace B.
type Result struct {
	TraceA string `json:"trace_a"`
	TraceB string `json:"trace_b"`

	Divergences   []Divergence `json:"divergences"`
	Critical      int          `json:"critical"`
	Informational int          `json:"informational"`

	Rows []Row `json:"-"`
}

// Identical reports whether no divergence was found.
func (r *Result) Identical() bool {
	return len(r.Divergences) == 0
}

// Summary is a one-line description of the result.
func (r *Result) Summary() string {
	if r.Identical() {
		return "traces are identical"
	}
	return fmt.Sprintf("%d divergences (%d critical, %d informational)",
		len(r.Divergences), r.Critical, r.Informational)
}

// BySeverity returns the divergences of one severity, in order.
func (r *Result) BySeverity(s Severity) []Divergence {
	var out []Divergence
	for _, d := range r.Divergences {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

// Traces compares a with b. Neither trace is modified. Empty traces are
// allowed: every event of the other side is then missing or extra.
func Traces(a, b *model.Trace) *Result {
	start := time.Now()
	defer func() {
		metrics.DiffDuration.Observe(time.Since(start).Seconds())
	}()

	rows := align(a.Flatten(), b.Flatten())

	divs := append([]Divergence{}, compareSpans(a, b, rows)...)
	for i, row := range rows {
		if d, ok := classify(row); ok {
			d.Position = i + 1
			divs = append(divs, d)
		}
	}
	sort.SliceStable(divs, func(i, j int) bool {
		return divs[i].Position < divs[j].Position
	})

	res := &Result{
		TraceA:      label(a),
		TraceB:      label(b),
		Divergences: divs,
		Rows:        rows,
	}
	for _, d := range divs {
		switch d.Severity {
		case SeverityCritical:
			res.Critical++
		case SeverityInformational:
			res.Informational++
		}
		metrics.DiffDivergences.WithLabelValues(string(d.Severity), string(d.Category)).Inc()
	}
	return res
}

func label(t *model.Trace) string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}
