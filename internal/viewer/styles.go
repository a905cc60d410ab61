package viewer

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/capitalize-ai/agentreplay/internal/diff"
	"github.com/capitalize-ai/agentreplay/internal/model"
)

var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("14"))

	spanStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	boldStyle = lipgloss.NewStyle().Bold(true)

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("14")).
			Padding(0, 1)
)

// eventColors follows the usual terminal palette: model traffic in cyan and
// green, tools in yellow and blue, failures in red.
var eventColors = map[model.EventType]lipgloss.Color{
	model.EventLLMRequest:  lipgloss.Color("14"),
	model.EventLLMResponse: lipgloss.Color("10"),
	model.EventToolCall:    lipgloss.Color("11"),
	model.EventToolResult:  lipgloss.Color("12"),
	model.EventDecision:    lipgloss.Color("13"),
	model.EventStateChange: lipgloss.Color("15"),
	model.EventError:       lipgloss.Color("9"),
	model.EventLog:         lipgloss.Color("8"),
}

var eventIcons = map[model.EventType]string{
	model.EventLLMRequest:  "→",
	model.EventLLMResponse: "←",
	model.EventToolCall:    "⚙",
	model.EventToolResult:  "▣",
	model.EventDecision:    "⑂",
	model.EventStateChange: "Δ",
	model.EventError:       "✗",
	model.EventLog:         "•",
}

var severityColors = map[diff.Severity]lipgloss.Color{
	diff.SeverityCritical:      lipgloss.Color("9"),
	diff.SeverityInformational: lipgloss.Color("12"),
}

func eventStyle(t model.EventType) lipgloss.Style {
	c, ok := eventColors[t]
	if !ok {
		c = lipgloss.Color("15")
	}
	return lipgloss.NewStyle().Foreground(c)
}

func eventLabel(t model.EventType) string {
	icon, ok := eventIcons[t]
	if !ok {
		icon = "?"
	}
	return icon + " " + eventStyle(t).Render(strings.ToUpper(strings.ReplaceAll(string(t), "_", " ")))
}
