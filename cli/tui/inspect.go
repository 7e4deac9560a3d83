package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InspectModel shows archived target results for one federation request.
// Records are the archive rows returned by a lookup.
type InspectModel struct {
	rows     []map[string]any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(data any) InspectModel {
	rows, _ := data.([]map[string]any)
	return InspectModel{rows: rows}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return m.render() + "\n" + help
}

func (m InspectModel) render() string {
	if len(m.rows) == 0 {
		return BoxStyle.Render("No archived targets")
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Archived Federation"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Request ID:"), ValueStyle.Render(field(m.rows[0], "request_id")))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Day:"), ValueStyle.Render(field(m.rows[0], "day")))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Total:"), ValueStyle.Render(field(m.rows[0], "total_count")))

	for _, row := range m.rows {
		b.WriteString("\n")
		state := "succeeded"
		if usable, _ := row["usable"].(bool); !usable {
			state = "failed"
		}
		fmt.Fprintf(&b, "%s %s\n",
			LabelStyle.Render("Target:"),
			StateStyle(state).Render(field(row, "target")))
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("  Type:"), ValueStyle.Render(field(row, "kind")))
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("  Count:"), ValueStyle.Render(field(row, "count")))
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("  Elapsed:"), ValueStyle.Render(field(row, "elapsed_ms")+"ms"))
		if d, ok := row["diagnostic"].(map[string]any); ok {
			fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("  Diagnostic:"),
				ErrorStyle.Render(fmt.Sprintf("%v %v: %v", d["kind"], d["code"], d["message"])))
		}
	}
	return BoxStyle.Render(b.String())
}

func field(row map[string]any, name string) string {
	v, ok := row[name]
	if !ok || v == nil {
		return "-"
	}
	return fmt.Sprintf("%v", v)
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(data any) string {
	model := NewInspectModel(data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
