package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/pithecene-io/tether/metrics"
)

// StatsModel shows a server counter snapshot.
type StatsModel struct {
	snap     metrics.Snapshot
	quitting bool
}

// NewStatsModel creates the model for a metrics.Snapshot payload.
func NewStatsModel(data any) (StatsModel, error) {
	switch s := data.(type) {
	case metrics.Snapshot:
		return StatsModel{snap: s}, nil
	case *metrics.Snapshot:
		if s != nil {
			return StatsModel{snap: *s}, nil
		}
	}
	return StatsModel{}, fmt.Errorf("stats view expects metrics.Snapshot, got %T", data)
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Server Statistics"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s %s   %s %s\n\n",
		LabelStyle.Render("Encryption:"), ValueStyle.Render(s.Encryption),
		LabelStyle.Render("Storage:"), ValueStyle.Render(s.StorageBackend)))

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Active", humanize.Comma(s.ActiveConnections()), highlightColor),
		statBox("Accepted", humanize.Comma(s.ConnectionsAccepted), successColor),
		statBox("Received", humanize.Bytes(uint64(max(s.BytesReceived, 0))), primaryColor),
	))
	b.WriteString("\n")
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Files", humanize.Comma(s.FilesSaved), successColor),
		statBox("Recordings", humanize.Comma(s.RecordingsSaved), successColor),
		statBox("Failures", humanize.Comma(s.FileFailures+s.RecordingFailures), errorColor),
	))
	b.WriteString("\n")

	rows := [][2]string{
		{"Messages", humanize.Comma(s.MessagesReceived)},
		{"Raw fallback", humanize.Comma(s.RawMessages)},
		{"Unknown", humanize.Comma(s.UnknownMessages)},
		{"Decrypt errors", humanize.Comma(s.DecryptErrors)},
		{"Frame errors", humanize.Comma(s.FrameErrors)},
		{"Missing chunks", humanize.Comma(s.MissingChunks)},
		{"Limit rejects", humanize.Comma(s.LimitRejections)},
		{"Storage errors", humanize.Comma(s.StorageFailures)},
		{"Panics", humanize.Comma(s.PanicsRecovered)},
	}
	var body strings.Builder
	for _, row := range rows {
		body.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}
	if len(s.MessagesByType) > 0 {
		body.WriteString("\n")
		for _, kind := range slices.Sorted(maps.Keys(s.MessagesByType)) {
			body.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(kind), ValueStyle.Render(humanize.Comma(s.MessagesByType[kind]))))
		}
	}
	b.WriteString(BoxStyle.Render(strings.TrimRight(body.String(), "\n")))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("Press q to quit"))
	return b.String()
}

func statBox(label, value string, color lipgloss.Color) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatValueStyle.Foreground(color).Render(value),
		StatLabelStyle.Render(label))
	return StatBoxStyle.BorderForeground(color).Render(content)
}

// RenderStatic renders a view without starting a program.
func RenderStatic(viewType string, data any) (string, error) {
	model, err := newModel(viewType, data)
	if err != nil {
		return "", err
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View()), nil
}
