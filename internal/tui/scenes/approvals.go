package scenes

import (
	"fmt"
	"strings"
	"time"

	"astra-responder/internal/tui/api"
	"astra-responder/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

// ApprovalsScene lists pending manual actions and lets the operator approve
// or reject the selected one.
type ApprovalsScene struct {
	client     *api.Client
	actions    []api.PendingAction
	err        string
	notice     string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

type approvalsMsg struct {
	actions []api.PendingAction
	err     string
}

type decisionMsg struct {
	action *api.PendingAction
	err    string
}

// NewApprovalsScene creates a new approvals scene.
func NewApprovalsScene(client *api.Client) *ApprovalsScene {
	return &ApprovalsScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init fetches the initial pending list.
func (a *ApprovalsScene) Init() tea.Cmd {
	return a.fetchActions()
}

func (a *ApprovalsScene) fetchActions() tea.Cmd {
	return func() tea.Msg {
		actions, err := a.client.GetPendingActions("pending")
		if err != nil {
			return approvalsMsg{err: err.Error()}
		}
		return approvalsMsg{actions: actions}
	}
}

func (a *ApprovalsScene) decide(id string, approve bool) tea.Cmd {
	return func() tea.Msg {
		var action *api.PendingAction
		var err error
		if approve {
			action, err = a.client.ApproveAction(id)
		} else {
			action, err = a.client.RejectAction(id)
		}
		if err != nil {
			return decisionMsg{err: err.Error()}
		}
		return decisionMsg{action: action}
	}
}

// TickCmd returns the refresh tick.
func (a *ApprovalsScene) TickCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "approvals", Time: t}
	})
}

// Update handles messages for the approvals scene.
func (a *ApprovalsScene) Update(msg tea.Msg) (*ApprovalsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.maxRows = max(5, a.height-12)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if a.cursor > 0 {
				a.cursor--
				if a.cursor < a.offset {
					a.offset = a.cursor
				}
			}
		case "down", "j":
			if a.cursor < len(a.actions)-1 {
				a.cursor++
				if a.cursor >= a.offset+a.maxRows {
					a.offset = a.cursor - a.maxRows + 1
				}
			}
		case "a", "enter":
			if a.cursor < len(a.actions) {
				a.notice = "approving..."
				return a, a.decide(a.actions[a.cursor].ID, true)
			}
		case "x":
			if a.cursor < len(a.actions) {
				a.notice = "rejecting..."
				return a, a.decide(a.actions[a.cursor].ID, false)
			}
		case "r":
			a.loading = true
			return a, a.fetchActions()
		}
		return a, nil

	case approvalsMsg:
		a.loading = false
		a.actions = msg.actions
		a.err = msg.err
		a.lastUpdate = time.Now()
		if a.cursor >= len(a.actions) {
			a.cursor = max(0, len(a.actions)-1)
		}
		return a, nil

	case decisionMsg:
		if msg.err != "" {
			a.notice = msg.err
			return a, a.fetchActions()
		}
		verb := "approved"
		if msg.action.Status == "rejected" {
			verb = "rejected"
		}
		a.notice = fmt.Sprintf("%s %s for %s", verb, msg.action.Config.ActionType, msg.action.Alert.SourceIP)
		if msg.action.Error != "" {
			a.notice += " (execution failed: " + msg.action.Error + ")"
		}
		return a, a.fetchActions()

	case TickMsg:
		if msg.Scene == "approvals" {
			return a, a.fetchActions()
		}
		return a, nil
	}

	return a, nil
}

// View renders the pending approvals table.
func (a *ApprovalsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Pending Approvals"))
	b.WriteString("\n\n")

	if a.loading && len(a.actions) == 0 {
		b.WriteString(styles.Muted.Render("  Loading pending actions..."))
		return b.String()
	}

	if a.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", a.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if a.notice != "" {
		b.WriteString(styles.StatusWarning.Render("  " + a.notice))
		b.WriteString("\n\n")
	}

	if len(a.actions) == 0 {
		b.WriteString(styles.Muted.Render("  Nothing waiting for approval."))
		return b.String()
	}

	header := fmt.Sprintf("  %-10s %-18s %-22s %-16s %-6s %s",
		"Age", "Action", "Alert", "Source", "Conf", "TTL")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(a.offset+a.maxRows, len(a.actions))
	for i, action := range a.actions[a.offset:endIdx] {
		idx := a.offset + i
		row := a.renderRow(action, idx == a.cursor)
		b.WriteString(row)
		b.WriteString("\n")
	}

	if len(a.actions) > a.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d", a.offset+1, endIdx, len(a.actions))
		b.WriteString(styles.Muted.Render(scrollInfo))
	}
	b.WriteString(styles.Muted.Render("\n  [a/Enter] Approve  [x] Reject  [r] Refresh"))

	return b.String()
}

func (a *ApprovalsScene) renderRow(action api.PendingAction, selected bool) string {
	age := formatAge(time.Since(action.CreatedAt))
	ttl := "perm"
	if action.Config.TTLMinutes > 0 {
		ttl = fmt.Sprintf("%dm", action.Config.TTLMinutes)
	}

	row := fmt.Sprintf("  %-10s %-18s %-22s %-16s %-6.2f %s",
		age,
		truncate(action.Config.ActionType, 18),
		truncate(action.Alert.AlertType, 22),
		truncate(action.Alert.SourceIP, 16),
		action.Alert.Confidence,
		ttl)

	if selected {
		return styles.RowSelected.Render(row)
	}
	return row
}

func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
