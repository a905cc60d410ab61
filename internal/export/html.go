package export

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/capitalize-ai/agentreplay/internal/model"
)

//go:embed templates/trace.html.tmpl
var templateFS embed.FS

var traceTemplate = template.Must(
	template.New("trace.html.tmpl").ParseFS(templateFS, "templates/trace.html.tmpl"),
)

// EventColors maps event types to the accent color used in HTML output.
var EventColors = map[model.EventType]string{
	model.EventLLMRequest:  "#06b6d4",
	model.EventLLMResponse: "#22c55e",
	model.EventToolCall:    "#eab308",
	model.EventToolResult:  "#3b82f6",
	model.EventDecision:    "#a855f7",
	model.EventStateChange: "#6b7280",
	model.EventError:       "#ef4444",
	model.EventLog:         "#9ca3af",
}

type htmlPage struct {
	Name       string
	TraceID    string
	SpanCount  int
	EventCount int
	Duration   string
	Events     []htmlEvent
}

type htmlEvent struct {
	Index int
	Label string
	Color template.CSS
	Span  string

	// Indent is the left offset in pixels for nested spans.
	Indent int
	Time   string
	Data   string
}

// HTML writes t as a self-contained timeline page, events in recording order.
func HTML(w io.Writer, t *model.Trace) error {
	page := htmlPage{
		Name:       t.Name,
		TraceID:    t.ID,
		SpanCount:  t.SpanCount(),
		EventCount: t.EventCount(),
		Duration:   "running",
	}
	if !t.EndTime.IsZero() || t.Duration() > 0 {
		page.Duration = fmt.Sprintf("%.3fs", t.Duration().Seconds())
	}

	for i, s := range t.Flatten() {
		data, err := json.MarshalIndent(s.Event.Data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", s.Event.Sequence, err)
		}
		color, ok := EventColors[s.Event.Type]
		if !ok {
			color = "#6b7280"
		}
		page.Events = append(page.Events, htmlEvent{
			Index:  i + 1,
			Label:  strings.ToUpper(strings.ReplaceAll(string(s.Event.Type), "_", " ")),
			Color:  template.CSS(color),
			Span:   s.Span.Name,
			Indent: s.Depth * 24,
			Time:   s.Event.Timestamp.Format(time.TimeOnly + ".000"),
			Data:   string(data),
		})
	}

	if err := traceTemplate.Execute(w, page); err != nil {
		return fmt.Errorf("failed to render html: %w", err)
	}
	return nil
}
