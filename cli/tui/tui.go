package tui

import (
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
)

// View types with TUI support.
const (
	ViewSearchResult      = "search_result"
	ViewInspectFederation = "inspect_federation"
)

// Run starts the appropriate TUI based on the view type.
// Returns an error if the view type doesn't support TUI.
func Run(viewType string, data any) error {
	var model tea.Model
	switch viewType {
	case ViewSearchResult:
		m, err := NewResultModel(data)
		if err != nil {
			return err
		}
		model = m
	case ViewInspectFederation:
		model = NewInspectModel(data)
	default:
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewSearchResult, ViewInspectFederation}
}
