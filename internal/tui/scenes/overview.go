// Package scenes provides the operator console scenes
package scenes

import (
	"fmt"
	"strings"
	"time"

	"astra-responder/internal/tui/api"
	"astra-responder/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TickMsg is sent on each scene refresh tick. Exported for the parent model.
type TickMsg struct {
	Scene string
	Time  time.Time
}

// OverviewScene displays responder health and counters.
type OverviewScene struct {
	client     *api.Client
	health     *api.Health
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

type healthMsg struct {
	health *api.Health
	err    error
}

// NewOverviewScene creates a new overview scene.
func NewOverviewScene(client *api.Client) *OverviewScene {
	return &OverviewScene{
		client:  client,
		loading: true,
	}
}

// Init fetches the initial health snapshot.
func (o *OverviewScene) Init() tea.Cmd {
	return o.fetchHealth()
}

func (o *OverviewScene) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		health, err := o.client.GetHealth()
		return healthMsg{health: health, err: err}
	}
}

// TickCmd returns the refresh tick. The parent model schedules it only
// while this scene is active.
func (o *OverviewScene) TickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "overview", Time: t}
	})
}

// Update handles messages for the overview scene.
func (o *OverviewScene) Update(msg tea.Msg) (*OverviewScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		o.width = msg.Width
		o.height = msg.Height
		return o, nil

	case healthMsg:
		o.loading = false
		o.health = msg.health
		o.err = msg.err
		o.lastUpdate = time.Now()
		return o, nil

	case TickMsg:
		if msg.Scene == "overview" {
			return o, o.fetchHealth()
		}
		return o, nil
	}

	return o, nil
}

// View renders the overview.
func (o *OverviewScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Responder Overview"))
	b.WriteString("\n\n")

	if o.loading {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}

	if o.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %v", o.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Is the responder running and reachable?"))
		return b.String()
	}

	var statusText string
	if o.health.Status == "ok" {
		statusText = styles.StatusOK.Render("● ONLINE")
	} else {
		statusText = styles.StatusError.Render("● " + strings.ToUpper(o.health.Status))
	}
	b.WriteString(fmt.Sprintf("  Status: %s\n\n", statusText))

	cards := []string{
		o.renderMetricCard("Active Blocks", fmt.Sprintf("%d", o.health.ActiveBlocks)),
		o.renderMetricCard("Pending", fmt.Sprintf("%d", o.health.PendingActions)),
		o.renderMetricCard("History", fmt.Sprintf("%d", o.health.HistoryEntries)),
		o.renderMetricCard("Policy Rev", fmt.Sprintf("%d", o.health.PolicyRevision)),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	if o.health.PendingActions > 0 {
		warn := fmt.Sprintf("  %d action(s) awaiting approval. Press [2] to review.", o.health.PendingActions)
		b.WriteString(styles.StatusWarning.Render(warn))
		b.WriteString("\n")
	}

	if !o.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s", o.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (o *OverviewScene) renderMetricCard(label, value string) string {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.MutedColor).
		Padding(0, 2).
		Width(18).
		Align(lipgloss.Center)

	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)

	return card.Render(content)
}
