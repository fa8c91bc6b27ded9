package scenes

import (
	"fmt"
	"strings"
	"time"

	"astra-responder/internal/tui/api"
	"astra-responder/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

// BlocksScene lists active network restrictions and lets the operator lift
// the selected one.
type BlocksScene struct {
	client     *api.Client
	blocks     []api.ActiveBlock
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

type blocksMsg struct {
	blocks []api.ActiveBlock
	err    string
}

type unblockMsg struct {
	target string
	err    string
}

// NewBlocksScene creates a new blocks scene.
func NewBlocksScene(client *api.Client) *BlocksScene {
	return &BlocksScene{
		client:  client,
		loading: true,
		maxRows: 10,
	}
}

// Init fetches the initial block list.
func (s *BlocksScene) Init() tea.Cmd {
	return s.fetchBlocks()
}

func (s *BlocksScene) fetchBlocks() tea.Cmd {
	return func() tea.Msg {
		blocks, err := s.client.GetActiveBlocks()
		if err != nil {
			return blocksMsg{err: err.Error()}
		}
		return blocksMsg{blocks: blocks}
	}
}

func (s *BlocksScene) unblock(target string) tea.Cmd {
	return func() tea.Msg {
		if err := s.client.UnblockIP(target); err != nil {
			return unblockMsg{target: target, err: err.Error()}
		}
		return unblockMsg{target: target}
	}
}

// TickCmd returns the refresh tick.
func (s *BlocksScene) TickCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Scene: "blocks", Time: t}
	})
}

// Update handles messages for the blocks scene.
func (s *BlocksScene) Update(msg tea.Msg) (*BlocksScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		s.maxRows = max(5, s.height-12)
		return s, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if s.cursor > 0 {
				s.cursor--
				if s.cursor < s.offset {
					s.offset = s.cursor
				}
			}
		case "down", "j":
			if s.cursor < len(s.blocks)-1 {
				s.cursor++
				if s.cursor >= s.offset+s.maxRows {
					s.offset = s.cursor - s.maxRows + 1
				}
			}
		case "u":
			if s.cursor < len(s.blocks) {
				s.notice = "unblocking..."
				return s, s.unblock(s.blocks[s.cursor].Target)
			}
		case "r":
			s.loading = true
			return s, s.fetchBlocks()
		}
		return s, nil

	case blocksMsg:
		s.loading = false
		s.blocks = msg.blocks
		s.err = msg.err
		s.lastUpdate = time.Now()
		if s.cursor >= len(s.blocks) {
			s.cursor = max(0, len(s.blocks)-1)
		}
		return s, nil

	case unblockMsg:
		if msg.err != "" {
			s.notice = fmt.Sprintf("unblock %s failed: %s", msg.target, msg.err)
		} else {
			s.notice = fmt.Sprintf("unblocked %s", msg.target)
		}
		return s, s.fetchBlocks()

	case TickMsg:
		if msg.Scene == "blocks" {
			return s, s.fetchBlocks()
		}
		return s, nil
	}

	return s, nil
}

// View renders the active blocks table.
func (s *BlocksScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  Active Blocks"))
	b.WriteString("\n\n")

	if s.loading && len(s.blocks) == 0 {
		b.WriteString(styles.Muted.Render("  Loading active blocks..."))
		return b.String()
	}

	if s.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", s.err)))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if s.notice != "" {
		b.WriteString(styles.StatusWarning.Render("  " + s.notice))
		b.WriteString("\n\n")
	}

	if len(s.blocks) == 0 {
		b.WriteString(styles.Muted.Render("  No active blocks."))
		return b.String()
	}

	header := fmt.Sprintf("  %-18s %-18s %-22s %-10s %s",
		"Target", "Action", "Alert", "Age", "Expires")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	endIdx := min(s.offset+s.maxRows, len(s.blocks))
	for i, block := range s.blocks[s.offset:endIdx] {
		idx := s.offset + i
		b.WriteString(s.renderRow(block, idx == s.cursor))
		b.WriteString("\n")
	}

	if len(s.blocks) > s.maxRows {
		scrollInfo := fmt.Sprintf("\n  %d-%d of %d", s.offset+1, endIdx, len(s.blocks))
		b.WriteString(styles.Muted.Render(scrollInfo))
	}
	b.WriteString(styles.Muted.Render("\n  [u] Unblock  [r] Refresh"))

	return b.String()
}

func (s *BlocksScene) renderRow(block api.ActiveBlock, selected bool) string {
	expires := "never"
	if block.ExpiresAt != nil {
		if remaining := time.Until(*block.ExpiresAt); remaining > 0 {
			expires = "in " + formatAge(remaining)
		} else {
			expires = "expired"
		}
	}

	row := fmt.Sprintf("  %-18s %-18s %-22s %-10s %s",
		truncate(block.Target, 18),
		truncate(block.ActionType, 18),
		truncate(block.AlertType, 22),
		formatAge(time.Since(block.CreatedAt)),
		expires)

	if selected {
		return styles.RowSelected.Render(row)
	}
	return row
}
