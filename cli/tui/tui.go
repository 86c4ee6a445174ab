package tui

import (
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// View types with an interactive rendering.
const (
	ViewAgents = "agents"
	ViewStats  = "stats"
)

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// Run starts the TUI for viewType and blocks until the user quits.
func Run(viewType string, data any) error {
	model, err := newModel(viewType, data)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func newModel(viewType string, data any) (tea.Model, error) {
	if !IsTUISupported(viewType) {
		return nil, fmt.Errorf("TUI mode is not supported for %s", viewType)
	}
	if viewType == ViewAgents {
		m, err := NewAgentsModel(data)
		return m, err
	}
	m, err := NewStatsModel(data)
	return m, err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	return slices.Contains(SupportedTUIViews(), viewType)
}

// SupportedTUIViews returns the view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewAgents, ViewStats}
}
