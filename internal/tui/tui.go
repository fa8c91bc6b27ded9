// Package tui provides the operator console for astra-responder
package tui

import (
	"fmt"
	"strings"

	"astra-responder/internal/tui/api"
	"astra-responder/internal/tui/scenes"
	"astra-responder/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view
type Scene int

const (
	SceneOverview Scene = iota
	SceneApprovals
	SceneBlocks
	SceneHistory

	sceneCount = 4
)

// Model is the main console model
type Model struct {
	client *api.Client

	scene Scene

	// Scene models. Only the active one receives ticks.
	overview  *scenes.OverviewScene
	approvals *scenes.ApprovalsScene
	blocks    *scenes.BlocksScene
	history   *scenes.HistoryScene

	width  int
	height int

	quitting bool
}

// New creates a new console model.
func New(baseURL, apiKey, operator string) *Model {
	client := api.NewClient(baseURL, apiKey, operator)

	return &Model{
		client:    client,
		scene:     SceneOverview,
		overview:  scenes.NewOverviewScene(client),
		approvals: scenes.NewApprovalsScene(client),
		blocks:    scenes.NewBlocksScene(client),
		history:   scenes.NewHistoryScene(client),
	}
}

// Init starts the first data fetch and the active scene's ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.overview.Init(),
		m.activeTickCmd(),
	)
}

// activeTickCmd returns the tick command for the active scene only so
// inactive scenes never poll the backend.
func (m *Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneOverview:
		return m.overview.TickCmd()
	case SceneApprovals:
		return m.approvals.TickCmd()
	case SceneBlocks:
		return m.blocks.TickCmd()
	case SceneHistory:
		return m.history.TickCmd()
	default:
		return nil
	}
}

func (m *Model) switchTo(scene Scene) tea.Cmd {
	if m.scene == scene {
		return nil
	}
	m.scene = scene
	switch scene {
	case SceneOverview:
		return tea.Batch(m.overview.Init(), m.overview.TickCmd())
	case SceneApprovals:
		return tea.Batch(m.approvals.Init(), m.approvals.TickCmd())
	case SceneBlocks:
		return tea.Batch(m.blocks.Init(), m.blocks.TickCmd())
	case SceneHistory:
		return tea.Batch(m.history.Init(), m.history.TickCmd())
	}
	return nil
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit

		case "1":
			return m, m.switchTo(SceneOverview)
		case "2":
			return m, m.switchTo(SceneApprovals)
		case "3":
			return m, m.switchTo(SceneBlocks)
		case "4":
			return m, m.switchTo(SceneHistory)

		case "tab":
			next := (m.scene + 1) % sceneCount
			return m, m.switchTo(next)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.overview, _ = m.overview.Update(msg)
		m.approvals, _ = m.approvals.Update(msg)
		m.blocks, _ = m.blocks.Update(msg)
		m.history, _ = m.history.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Only the active scene refreshes; it also schedules the next tick.
		var cmd tea.Cmd
		switch m.scene {
		case SceneOverview:
			m.overview, cmd = m.overview.Update(msg)
			cmds = append(cmds, cmd, m.overview.TickCmd())
		case SceneApprovals:
			m.approvals, cmd = m.approvals.Update(msg)
			cmds = append(cmds, cmd, m.approvals.TickCmd())
		case SceneBlocks:
			m.blocks, cmd = m.blocks.Update(msg)
			cmds = append(cmds, cmd, m.blocks.TickCmd())
		case SceneHistory:
			m.history, cmd = m.history.Update(msg)
			cmds = append(cmds, cmd, m.history.TickCmd())
		}
		return m, tea.Batch(cmds...)
	}

	// Forward other messages to the active scene only.
	var cmd tea.Cmd
	switch m.scene {
	case SceneOverview:
		m.overview, cmd = m.overview.Update(msg)
	case SceneApprovals:
		m.approvals, cmd = m.approvals.Update(msg)
	case SceneBlocks:
		m.blocks, cmd = m.blocks.Update(msg)
	case SceneHistory:
		m.history, cmd = m.history.Update(msg)
	}

	return m, cmd
}

// View renders the current scene
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneOverview:
		b.WriteString(m.overview.View())
	case SceneApprovals:
		b.WriteString(m.approvals.View())
	case SceneBlocks:
		b.WriteString(m.blocks.View())
	case SceneHistory:
		b.WriteString(m.history.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Overview", "1", SceneOverview},
		{"Approvals", "2", SceneApprovals},
		{"Blocks", "3", SceneBlocks},
		{"History", "4", SceneHistory},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.MutedColor).
		Width(m.width).
		Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-4] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [q] Quit "
	return styles.Help.Render(help)
}

// Run starts the operator console.
func Run(baseURL, apiKey, operator string) error {
	m := New(baseURL, apiKey, operator)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
