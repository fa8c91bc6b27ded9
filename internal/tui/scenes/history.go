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

// HistoryScene displays the newest audit entries.
type HistoryScene struct {
	client     *api.Client
	entries    []api.HistoryEntry
	err        string
	width      int
	height     int
	cursor     int
	offset     int
	loading    bool
	maxRows    int
	lastUpdate time.Time
}

type historyMsg struct {
	entries []api.HistoryEntry
	err     string
}

// NewHistoryScene creates a new history scene.
func NewHistoryScene(client *api.Client) *HistoryScene {
	return &HistoryScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init fetches the initial history page.
func (h *HistoryScene) Init() tea.Cmd {
	return h.fetchHistory()
}

func (h *HistoryScene) fetchHistory() tea.Cmd {
	return func() tea.Msg {
		entries, err := h.client.GetHistory(100)
		if err != nil {
			return historyMsg{err: err.Error()}
		}
		return historyMsg{entries: entries}
	}
}

// TickCmd returns the refresh tick.
func (h *HistoryScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "history", Time: t}
	})
}

// Update handles messages for the history scene.
func (h *HistoryScene) Update(msg tea.Msg) (*HistoryScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h.width = msg.Width
		h.height = msg.Height
		h.maxRows = max(5, h.height-12)
		return h, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if h.cursor > 0 {
				h.cursor--
				if h.cursor < h.offset {
					h.offset = h.cursor
				}
			}
		case "down", "j":
			if h.cursor < len(h.entries)-1 {
				h.cursor++
				if h.cursor >= h.offset+h.maxRows {
					h.offset = h.cursor - h.maxRows + 1
				}
			}
		case "pgup":
			h.cursor = max(0, h.cursor-h.maxRows)
			h.offset = max(0, h.offset-h.maxRows)
		case "pgdown":
			h.cursor = min(len(h.entries)-1, h.cursor+h.maxRows)
			h.offset = min(max(0, len(h.entries)-h.maxRows), h.offset+h.maxRows)
		case "r":
			h.loading = true
			return h, h.fetchHistory()
		}
		return h, nil

	case historyMsg:
		h.loading = false
		h.entries = msg.entries
		h.err = msg.err
		h.lastUpdate = time.Now()
		if h.cursor >= len(h.entries) {
			h.cursor = max(0, len(h.entries)-1)
		}
		return h, nil

	case TickMsg:
		if msg.Scene == "history" {
			return h, h.fetchHistory()
		}
		return h, nil
	}

	return h, nil
}

// View renders the history table.
func (h *HistoryScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Action History"))
	b.WriteString("\n\n")

	if h.loading && len(h.entries) == 0 {
		b.WriteString(styles.Muted.Render("  Loading history..."))
		return b.String()
	}

	if h.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", h.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(h.entries) == 0 {
		b.WriteString(styles.Muted.Render("  No actions recorded yet."))
		return b.String()
	}

	header := fmt.Sprintf("  %-10s %-18s %-18s %-16s %s",
		"Time", "Action", "Status", "Source", "Detail")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(h.offset+h.maxRows, len(h.entries))
	for i, entry := range h.entries[h.offset:endIdx] {
		idx := h.offset + i
		b.WriteString(h.renderRow(entry, idx == h.cursor))
		b.WriteString("\n")
	}

	if len(h.entries) > h.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll)", h.offset+1, endIdx, len(h.entries))
		b.WriteString(styles.Muted.Render(scrollInfo))
	}
	if !h.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  Updated: %s", h.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (h *HistoryScene) renderRow(entry api.HistoryEntry, selected bool) string {
	detail := entry.Detail
	if entry.Error != "" {
		detail = entry.Error
	}

	row := fmt.Sprintf("  %-10s %-18s %s %-16s %s",
		entry.Timestamp.Local().Format("15:04:05"),
		truncate(entry.ActionType, 18),
		h.formatStatus(entry.Status),
		truncate(entry.Alert.SourceIP, 16),
		truncate(detail, 40))

	if selected {
		return styles.RowSelected.Render(row)
	}
	return row
}

func (h *HistoryScene) formatStatus(status string) string {
	padded := fmt.Sprintf("%-18s", status)

	var style lipgloss.Style
	switch status {
	case "success", "unblocked":
		style = styles.StatusOK
	case "failure", "expired":
		style = styles.StatusError
	case "pending_approval", "rejected":
		style = styles.StatusWarning
	default:
		style = styles.Muted
	}
	return style.Render(padded)
}
