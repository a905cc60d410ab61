package diff

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

const maxValueLen = 60

// classify turns one alignment row into a divergence, if the row differs.
func classify(row Row) (Divergence, bool) {
	switch {
	case row.A == nil:
		return gapDivergence(CategoryExtraEvent, row.B,
			fmt.Sprintf("B has extra %s in span %q", describe(row.B.Event), row.B.Span.Name)), true
	case row.B == nil:
		return gapDivergence(CategoryMissingEvent, row.A,
			fmt.Sprintf("B is missing %s from span %q", describe(row.A.Event), row.A.Span.Name)), true
	}

	a, b := row.A.Event, row.B.Event
	d := Divergence{
		SpanA:  row.A.Span.Name,
		SpanB:  row.B.Span.Name,
		EventA: &row.A.Event,
		EventB: &row.B.Event,
	}

	if a.Type != b.Type {
		d.Severity = SeverityCritical
		d.Category = CategoryTypeMismatch
		if a.Type == model.EventError || b.Type == model.EventError {
			d.Category = CategoryErrorMismatch
		}
		d.Description = fmt.Sprintf("event type differs: A has %s, B has %s", describe(a), describe(b))
		return d, true
	}

	if !exact(a, b) {
		ka, _ := a.IdentityKey()
		kb, _ := b.IdentityKey()
		d.Severity = SeverityCritical
		switch a.Type {
		case model.EventToolCall, model.EventToolResult:
			d.Category = CategoryToolMismatch
			d.Description = fmt.Sprintf("%s tool differs: A used %q, B used %q", a.Type, ka, kb)
		case model.EventLLMRequest, model.EventLLMResponse:
			d.Category = CategoryModelMismatch
			d.Description = fmt.Sprintf("%s model differs: A used %q, B used %q", a.Type, ka, kb)
		default:
			d.Category = CategoryStateMismatch
			d.Description = fmt.Sprintf("state key differs: A changed %q, B changed %q", ka, kb)
		}
		return d, true
	}

	if a.Type == model.EventDecision {
		if ca, cb := a.String("choice"), b.String("choice"); ca != cb {
			d.Severity = SeverityCritical
			d.Category = CategoryDecisionMismatch
			d.Description = fmt.Sprintf("decision %q chose %q in A and %q in B", a.String("description"), ca, cb)
			return d, true
		}
	}

	changes := dataChanges(a.Data, b.Data)
	if len(changes) == 0 {
		return Divergence{}, false
	}
	d.Severity = SeverityInformational
	d.Category = CategoryContentDiff
	d.Description = fmt.Sprintf("%s content differs: %s", describe(a), strings.Join(changes, "; "))
	return d, true
}

func gapDivergence(cat Category, s *model.Step, desc string) Divergence {
	d := Divergence{
		Severity:    SeverityInformational,
		Category:    cat,
		Description: desc,
	}
	switch s.Event.Type {
	case model.EventError, model.EventToolCall, model.EventDecision:
		d.Severity = SeverityCritical
	}
	if cat == CategoryMissingEvent {
		d.SpanA, d.EventA = s.Span.Name, &s.Event
	} else {
		d.SpanB, d.EventB = s.Span.Name, &s.Event
	}
	return d
}

// describe renders an event as type(identity), e.g. tool_call(search).
func describe(e model.Event) string {
	if key, ok := e.IdentityKey(); ok && key != "" {
		return fmt.Sprintf("%s(%s)", e.Type, key)
	}
	for _, k := range []string{"description", "message"} {
		if v := e.String(k); v != "" {
			return fmt.Sprintf("%s(%q)", e.Type, truncate(v))
		}
	}
	return string(e.Type)
}

// dataChanges lists the keys whose values differ, in key order, as
// "key: A=<value> B=<value>". Values are compared by their canonical JSON.
func dataChanges(a, b map[string]any) []string {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var out []string
	for _, k := range sorted {
		va, inA := a[k]
		vb, inB := b[k]
		ja, jb := canonical(va, inA), canonical(vb, inB)
		if ja != jb {
			out = append(out, fmt.Sprintf("%s: A=%s B=%s", k, truncate(ja), truncate(jb)))
		}
	}
	return out
}

func canonical(v any, present bool) string {
	if !present {
		return "<absent>"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxValueLen {
		return s
	}
	return string(r[:maxValueLen-3]) + "..."
}
