package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tether/types"
)

// AgentsModel browses the agent directory.
type AgentsModel struct {
	records  []types.AgentRecord
	table    table.Model
	quitting bool
}

// NewAgentsModel creates the model for a []types.AgentRecord payload.
func NewAgentsModel(data any) (AgentsModel, error) {
	records, ok := data.([]types.AgentRecord)
	if !ok {
		return AgentsModel{}, fmt.Errorf("agents view expects []types.AgentRecord, got %T", data)
	}

	rows := make([]table.Row, len(records))
	for i, rec := range records {
		rows[i] = table.Row{fmt.Sprintf("%d", i+1), rec.Addr, strings.Join(rec.Roles, ",")}
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: "Address", Width: 40},
			{Title: "Roles", Width: 30},
		}),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 15)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(mutedColor).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(primaryColor)
	t.SetStyles(styles)

	return AgentsModel{records: records, table: t}, nil
}

// Init implements tea.Model.
func (m AgentsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m AgentsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Selected returns the highlighted record.
func (m AgentsModel) Selected() (types.AgentRecord, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.records) {
		return types.AgentRecord{}, false
	}
	return m.records[i], true
}

// View implements tea.Model.
func (m AgentsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Known Agents (%d)", len(m.records))))
	b.WriteString("\n")
	if len(m.records) == 0 {
		b.WriteString(LabelStyle.Render("no agents recorded"))
		b.WriteString("\n")
	} else {
		b.WriteString(BoxStyle.Render(m.table.View()))
		b.WriteString("\n")
		if rec, ok := m.Selected(); ok {
			b.WriteString(m.renderDetail(rec))
		}
	}
	b.WriteString(HelpStyle.Render("↑/↓ to move • q to quit"))
	return b.String()
}

func (m AgentsModel) renderDetail(rec types.AgentRecord) string {
	roles := make([]string, len(rec.Roles))
	for i, r := range rec.Roles {
		roles[i] = RoleStyle(r).Render(r)
	}
	if len(roles) == 0 {
		roles = []string{ErrorStyle.Render("none")}
	}
	return fmt.Sprintf("%s %s\n%s %s\n",
		LabelStyle.Render("Address:"), ValueStyle.Render(rec.Addr),
		LabelStyle.Render("Roles:"), strings.Join(roles, " "))
}
