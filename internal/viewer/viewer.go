// Package viewer renders traces, replay steps and diffs for the terminal.
package viewer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/capitalize-ai/agentreplay/internal/diff"
	"github.com/capitalize-ai/agentreplay/internal/model"
	"github.com/capitalize-ai/agentreplay/internal/replay"
)

const previewLen = 80

// Viewer writes styled output to a terminal.
type Viewer struct {
	out io.Writer
}

// New creates a viewer writing to out.
func New(out io.Writer) *Viewer {
	return &Viewer{out: out}
}

// Trace prints an overview panel followed by every span and its events.
func (v *Viewer) Trace(t *model.Trace) {
	fmt.Fprintln(v.out, panelStyle.Render(header(t)))
	for _, s := range t.Spans {
		v.span(s, 0)
	}
}

// Info prints the overview panel and per-type event counts.
func (v *Viewer) Info(t *model.Trace) {
	fmt.Fprintln(v.out, panelStyle.Render(header(t)))

	counts := make(map[model.EventType]int)
	for _, s := range t.Flatten() {
		counts[s.Event.Type]++
	}
	for _, et := range model.EventTypes {
		if n := counts[et]; n > 0 {
			fmt.Fprintf(v.out, "  %-28s %d\n", eventLabel(et), n)
		}
	}
	if len(t.Metadata) > 0 {
		fmt.Fprintln(v.out, dimStyle.Render("metadata: "+compact(t.Metadata)))
	}
}

// Tree prints the span hierarchy with the event types of each span.
func (v *Viewer) Tree(t *model.Trace) {
	root := tree.Root(titleStyle.Render(t.Name) + " " + dimStyle.Render("("+t.ID+")"))
	for _, s := range t.Spans {
		root.Child(spanTree(s))
	}
	fmt.Fprintln(v.out, root.String())
}

func spanTree(s *model.Span) *tree.Tree {
	node := tree.Root(spanStyle.Render(s.Name) + dimStyle.Render(spanDuration(s)))
	for _, e := range s.Events {
		node.Child(eventLabel(e.Type))
	}
	for _, c := range s.Children {
		node.Child(spanTree(c))
	}
	return node
}

// Step prints the event under the replay cursor.
func (v *Viewer) Step(e *replay.Engine) {
	s, err := e.Peek()
	if err != nil {
		fmt.Fprintln(v.out, dimStyle.Render("End of trace"))
		return
	}
	v.StepAt(e.Position(), e.Len(), s)
}

// StepAt prints one replay step with its full payload. index is 0-based.
func (v *Viewer) StepAt(index, total int, s model.Step) {
	fmt.Fprintf(v.out, "%s %s %s %s\n",
		dimStyle.Render(fmt.Sprintf("[%d/%d]", index+1, total)),
		spanStyle.Render(s.Span.Name),
		eventLabel(s.Event.Type),
		dimStyle.Render(s.Event.Timestamp.Format(time.TimeOnly+".000")),
	)
	raw, err := json.MarshalIndent(s.Event.Data, "  ", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", s.Event.Data))
	}
	fmt.Fprintln(v.out, "  "+string(raw))
}

// Diff prints the result panel and a table of divergences.
func (v *Viewer) Diff(r *diff.Result) {
	color := lipgloss.Color("10")
	if !r.Identical() {
		color = lipgloss.Color("9")
	}
	body := fmt.Sprintf("Trace A: %s\nTrace B: %s\n%s",
		dimStyle.Render(r.TraceA),
		dimStyle.Render(r.TraceB),
		lipgloss.NewStyle().Foreground(color).Render(r.Summary()),
	)
	fmt.Fprintln(v.out, panelStyle.BorderForeground(color).Render(body))
	if r.Identical() {
		return
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("#", "SEVERITY", "POS", "CATEGORY", "DESCRIPTION")
	for i, d := range r.Divergences {
		tbl.Row(
			strconv.Itoa(i+1),
			lipgloss.NewStyle().Foreground(severityColors[d.Severity]).Render(strings.ToUpper(string(d.Severity))),
			strconv.Itoa(d.Position),
			string(d.Category),
			d.Description,
		)
	}
	fmt.Fprintln(v.out, tbl.String())
}

// SearchResults prints the steps matching a replay search.
func (v *Viewer) SearchResults(e *replay.Engine, query string, hits []int) {
	if len(hits) == 0 {
		fmt.Fprintln(v.out, dimStyle.Render(fmt.Sprintf("no events match %q", query)))
		return
	}
	fmt.Fprintln(v.out, boldStyle.Render(fmt.Sprintf("%d events match %q", len(hits), query)))
	for _, i := range hits {
		s, err := e.At(i)
		if err != nil {
			continue
		}
		fmt.Fprintf(v.out, "%s %s %s %s\n",
			seqStyle.Render(strconv.Itoa(i+1)),
			spanStyle.Render(s.Span.Name),
			eventLabel(s.Event.Type),
			Summarize(s.Event),
		)
	}
}

func (v *Viewer) span(s *model.Span, depth int) {
	prefix := strings.Repeat("  ", depth)
	fmt.Fprintf(v.out, "\n%s%s%s\n", prefix, spanStyle.Render(">>> "+s.Name), dimStyle.Render(spanDuration(s)))
	for _, e := range s.Events {
		fmt.Fprintf(v.out, "%s  %s %s\n", prefix, eventLabel(e.Type), Summarize(e))
	}
	for _, c := range s.Children {
		v.span(c, depth+1)
	}
}

func header(t *model.Trace) string {
	duration := "running"
	if d := t.Duration(); d > 0 {
		duration = fmt.Sprintf("%.3fs", d.Seconds())
	}
	return strings.Join([]string{
		titleStyle.Render(t.Name),
		"ID: " + dimStyle.Render(t.ID),
		fmt.Sprintf("Spans: %d | Events: %d", t.SpanCount(), t.EventCount()),
		"Duration: " + duration,
	}, "\n")
}

func spanDuration(s *model.Span) string {
	if !s.Closed() {
		return " (open)"
	}
	return fmt.Sprintf(" (%.3fs)", s.Duration().Seconds())
}

// Summarize renders the key fields of an event on one line.
func Summarize(e model.Event) string {
	switch e.Type {
	case model.EventLLMRequest:
		n := 0
		if msgs, ok := e.Data["messages"].([]any); ok {
			n = len(msgs)
		}
		return dimStyle.Render(fmt.Sprintf("model=%s messages=%d", e.String("model"), n))
	case model.EventLLMResponse:
		out := strconv.Quote(preview(e.String("content")))
		if tokens, ok := e.Data["tokens"].(float64); ok && tokens > 0 {
			out += dimStyle.Render(fmt.Sprintf(" (%d tokens)", int(tokens)))
		}
		return out
	case model.EventToolCall:
		name, _ := e.IdentityKey()
		return boldStyle.Render(name) + "(" + preview(compact(e.Data["arguments"])) + ")"
	case model.EventToolResult:
		name, _ := e.IdentityKey()
		return boldStyle.Render(name) + " -> " + preview(compact(e.Data["result"]))
	case model.EventDecision:
		return e.String("description") + " -> " + boldStyle.Render(e.String("choice"))
	case model.EventStateChange:
		return fmt.Sprintf("%s: %s -> %s", e.String("key"), compact(e.Data["old"]), compact(e.Data["new"]))
	case model.EventError:
		return eventStyle(model.EventError).Render(e.String("message"))
	default:
		if msg := e.String("message"); msg != "" {
			return preview(msg)
		}
		return preview(compact(e.Data))
	}
}

func compact(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
