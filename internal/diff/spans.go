package diff

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

type spanRef struct {
	path string
	span *model.Span
	// first is the smallest sequence in the span's subtree, -1 when the
	// subtree holds no events.
	first int64
}

// spanPaths lists the spans of t in pre-order, each with its slash-joined
// name path from the top level.
func spanPaths(t *model.Trace) []spanRef {
	var refs []spanRef
	var names []string
	t.Walk(func(s *model.Span, depth int) bool {
		names = append(names[:depth], s.Name)
		refs = append(refs, spanRef{
			path:  strings.Join(names, "/"),
			span:  s,
			first: firstSequence(s),
		})
		return true
	})
	return refs
}

func firstSequence(s *model.Span) int64 {
	first := int64(-1)
	if len(s.Events) > 0 {
		first = s.Events[0].Sequence
	}
	for _, c := range s.Children {
		if cf := firstSequence(c); cf >= 0 && (first < 0 || cf < first) {
			first = cf
		}
	}
	return first
}

// compareSpans matches spans by path, the k-th occurrence of a path in A with
// the k-th in B, and reports every span left over.
func compareSpans(a, b *model.Trace, rows []Row) []Divergence {
	refsA, refsB := spanPaths(a), spanPaths(b)

	var divs []Divergence
	for _, ref := range unmatched(refsA, refsB) {
		divs = append(divs, Divergence{
			Position:    spanPosition(ref, rows, func(r Row) *model.Step { return r.A }),
			Severity:    SeverityCritical,
			Category:    CategorySpanMismatch,
			Description: fmt.Sprintf("span %q exists only in A", ref.path),
			SpanA:       ref.span.Name,
		})
	}
	for _, ref := range unmatched(refsB, refsA) {
		divs = append(divs, Divergence{
			Position:    spanPosition(ref, rows, func(r Row) *model.Step { return r.B }),
			Severity:    SeverityCritical,
			Category:    CategorySpanMismatch,
			Description: fmt.Sprintf("span %q exists only in B", ref.path),
			SpanB:       ref.span.Name,
		})
	}
	return divs
}

// unmatched returns the spans of x whose path occurs more often in x than
// in y, keeping the later occurrences.
func unmatched(x, y []spanRef) []spanRef {
	available := make(map[string]int, len(y))
	for _, ref := range y {
		available[ref.path]++
	}
	var out []spanRef
	for _, ref := range x {
		if available[ref.path] > 0 {
			available[ref.path]--
			continue
		}
		out = append(out, ref)
	}
	return out
}

// spanPosition is the 1-based row of the span's first event. A span without
// events sits at the first row whose event on the same side was recorded
// after the span started, or after the last row.
func spanPosition(ref spanRef, rows []Row, side func(Row) *model.Step) int {
	for i, r := range rows {
		s := side(r)
		if s == nil {
			continue
		}
		if ref.first >= 0 {
			if s.Event.Sequence == ref.first {
				return i + 1
			}
		} else if !s.Event.Timestamp.Before(ref.span.Start) {
			return i + 1
		}
	}
	return len(rows) + 1
}
