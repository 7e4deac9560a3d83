package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/fedsearch/types"
)

// maxRecordPreview bounds how much of one record payload the detail pane shows.
const maxRecordPreview = 2048

// ResultModel browses a federation result: a target table and a scrollable
// detail pane for the selected target's records.
type ResultModel struct {
	result   *types.FederationResult
	table    table.Model
	detail   viewport.Model
	showing  bool
	width    int
	height   int
	quitting bool
}

// NewResultModel creates a browser for a *types.FederationResult.
func NewResultModel(data any) (ResultModel, error) {
	res, ok := data.(*types.FederationResult)
	if !ok {
		return ResultModel{}, fmt.Errorf("invalid data type for %s: %T", ViewSearchResult, data)
	}

	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Target", Width: 28},
		{Title: "Type", Width: 8},
		{Title: "Count", Width: 8},
		{Title: "Records", Width: 8},
		{Title: "Elapsed", Width: 9},
		{Title: "Diagnostic", Width: 40},
	}
	rows := make([]table.Row, 0, len(res.PerTarget))
	for i, t := range res.PerTarget {
		rows = append(rows, table.Row{
			strconv.Itoa(i),
			t.Name,
			string(t.Kind),
			strconv.Itoa(t.RecordCount),
			strconv.Itoa(len(t.Records)),
			fmt.Sprintf("%dms", t.ElapsedMs),
			diagnosticLine(t.Diagnostic),
		})
	}

	tbl := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 15)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(primaryColor).Bold(true)
	styles.Selected = styles.Selected.Foreground(highlightColor).Bold(true)
	tbl.SetStyles(styles)

	return ResultModel{
		result: res,
		table:  tbl,
		detail: viewport.New(80, 20),
	}, nil
}

// Init implements tea.Model.
func (m ResultModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ResultModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.detail.Width = msg.Width
		m.detail.Height = max(msg.Height-6, 5)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Open) && !m.showing:
			if i := m.table.Cursor(); i >= 0 && i < len(m.result.PerTarget) {
				m.detail.SetContent(renderTargetDetail(m.result.PerTarget[i]))
				m.detail.GotoTop()
				m.showing = true
			}
			return m, nil
		case key.Matches(msg, keys.Back) && m.showing:
			m.showing = false
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.showing {
		m.detail, cmd = m.detail.Update(msg)
	} else {
		m.table, cmd = m.table.Update(msg)
	}
	return m, cmd
}

// View implements tea.Model.
func (m ResultModel) View() string {
	if m.quitting {
		return ""
	}

	if m.showing {
		help := HelpStyle.Render("↑/↓ scroll • esc back • q quit")
		return m.detail.View() + "\n" + help
	}

	outcome := m.result.Outcome()
	header := fmt.Sprintf("%s %s   %s %s   %s %s",
		LabelStyle.Render("Request:"), ValueStyle.Render(m.result.RequestID),
		LabelStyle.Render("Outcome:"), StateStyle(outcome).Render(outcome),
		LabelStyle.Render("Total:"), ValueStyle.Render(strconv.Itoa(m.result.TotalCount)))

	help := HelpStyle.Render("↑/↓ select • enter records • q quit")
	return TitleStyle.Render("Federation Result") + "\n" + header + "\n\n" +
		BoxStyle.Render(m.table.View()) + "\n" + help
}

func renderTargetDetail(t types.TargetResult) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(t.Name))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Type:"), ValueStyle.Render(string(t.Kind)))
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Count:"), ValueStyle.Render(strconv.Itoa(t.RecordCount)))
	if t.RecordSyntax != "" {
		syntax := t.RecordSyntax
		if t.SyntaxSubstituted {
			syntax += " (substituted)"
		}
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Syntax:"), ValueStyle.Render(syntax))
	}
	if t.Diagnostic != nil {
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Diagnostic:"), ErrorStyle.Render(diagnosticLine(t.Diagnostic)))
	}

	if len(t.Records) == 0 {
		b.WriteString("\n" + HelpStyle.Render("(no records)"))
		return b.String()
	}
	for _, r := range t.Records {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render(fmt.Sprintf("[%d]", r.Position)), ValueStyle.Render(r.ID))
		if r.Diagnostic != nil {
			b.WriteString(WarningStyle.Render(diagnosticLine(r.Diagnostic)))
			b.WriteString("\n")
			continue
		}
		b.WriteString(preview(r.Data))
		b.WriteString("\n")
	}
	return b.String()
}

func preview(data []byte) string {
	if len(data) <= maxRecordPreview {
		return string(data)
	}
	return string(data[:maxRecordPreview]) + HelpStyle.Render(fmt.Sprintf("… %d more bytes", len(data)-maxRecordPreview))
}

func diagnosticLine(d *types.Diagnostic) string {
	if d == nil {
		return ""
	}
	s := fmt.Sprintf("%s %d: %s", d.Kind, d.Code, d.Message)
	if d.Details != "" {
		s += " (" + d.Details + ")"
	}
	return s
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Open key.Binding
	Back key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Open: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "records"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "back"),
	),
}
