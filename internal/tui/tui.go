package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(text, width-2) + "│"
}

func truncToWidth(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	truncated := ""
	for _, r := range []rune(s) {
		if runewidth.StringWidth(truncated+string(r)) > width-3 {
			break
		}
		truncated += string(r)
	}
	return truncated + "..."
}

// ProposalRow is one proposal's live tally line.
type ProposalRow struct {
	ProposalID       uint64
	ForWeight        uint64
	AgainstWeight    uint64
	AbstainCount     uint64
	NotParticipating uint64
	BordaPoints      uint64
}

// RoundUpdate is sent by the recorder whenever a round changes.
type RoundUpdate struct {
	RoundID        uint64
	Phase          string
	Method         string
	Finalized      bool
	TotalCommitted uint64
	TotalRevealed  uint64
	EligibleCount  uint64
	TurnoutPercent uint64
	EndCommit      time.Time
	EndReveal      time.Time
	Proposals      []ProposalRow
}

// UpdateMsg wraps a RoundUpdate for the bubbletea loop.
type UpdateMsg struct {
	Round RoundUpdate
}

// Model holds the TUI state: the latest snapshot of every round seen.
type Model struct {
	rounds   map[uint64]RoundUpdate
	selected uint64 // round whose proposal table is expanded
	width    int
	height   int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{
		rounds: make(map[uint64]RoundUpdate),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case UpdateMsg:
		m.rounds[msg.Round.RoundID] = msg.Round
		// Follow the most recent round unless the user picked one.
		if m.selected == 0 || msg.Round.RoundID > m.selected {
			m.selected = msg.Round.RoundID
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			m.selected = m.neighborRound(-1)
			return m, nil
		case "down", "j":
			m.selected = m.neighborRound(1)
			return m, nil
		}
	}

	return m, nil
}

// neighborRound returns the round id adjacent to the selection in sorted order.
func (m Model) neighborRound(dir int) uint64 {
	ids := m.sortedRoundIDs()
	if len(ids) == 0 {
		return 0
	}
	for i, id := range ids {
		if id == m.selected {
			j := i + dir
			if j < 0 || j >= len(ids) {
				return id
			}
			return ids[j]
		}
	}
	return ids[len(ids)-1]
}

func (m Model) sortedRoundIDs() []uint64 {
	ids := make([]uint64, 0, len(m.rounds))
	for id := range m.rounds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if len(m.rounds) == 0 {
		return "Waiting for rounds..."
	}

	roundsTable := m.renderRounds()
	proposals := m.renderProposals()
	return lipgloss.JoinVertical(lipgloss.Left, roundsTable, proposals)
}

// renderRounds renders one summary line per round.
func (m Model) renderRounds() string {
	topBorder := "┌" + strings.Repeat("─", m.width-2) + "┐"

	var lines []string
	lines = append(lines, formatInfoLine(" ROUND  PHASE                  METHOD    COMMITTED  REVEALED  TURNOUT", m.width))
	for _, id := range m.sortedRoundIDs() {
		r := m.rounds[id]
		marker := " "
		if id == m.selected {
			marker = ">"
		}
		line := fmt.Sprintf("%s%5d  %-21s  %-8s  %9d  %8d  %5d%%",
			marker, r.RoundID, r.Phase, r.Method, r.TotalCommitted, r.TotalRevealed, r.TurnoutPercent)
		lines = append(lines, formatInfoLine(truncToWidth(line, m.width-2), m.width))
	}

	return topBorder + "\n" + strings.Join(lines, "\n") + "\n" + separatorLine(m.width)
}

// renderProposals renders the tally table for the selected round.
func (m Model) renderProposals() string {
	r, ok := m.rounds[m.selected]
	if !ok {
		return "└" + strings.Repeat("─", m.width-2) + "┘"
	}

	var lines []string
	deadline := fmt.Sprintf(" round %d  commit ends %s  reveal ends %s  eligible=%d",
		r.RoundID,
		r.EndCommit.Format(time.RFC3339),
		r.EndReveal.Format(time.RFC3339),
		r.EligibleCount)
	lines = append(lines, formatInfoLine(truncToWidth(deadline, m.width-2), m.width))

	header := " PROPOSAL       FOR     AGAINST   ABSTAIN   N/P"
	if r.Method == "borda" {
		header += "     BORDA"
	}
	lines = append(lines, formatInfoLine(header, m.width))

	// Cap the table to the space below the rounds list.
	maxRows := m.height - len(m.rounds) - 8
	if maxRows < 1 {
		maxRows = 1
	}
	for i, p := range r.Proposals {
		if i >= maxRows {
			lines = append(lines, formatInfoLine(fmt.Sprintf(" ... %d more", len(r.Proposals)-maxRows), m.width))
			break
		}
		line := fmt.Sprintf(" %8d  %8d  %8d  %8d  %4d",
			p.ProposalID, p.ForWeight, p.AgainstWeight, p.AbstainCount, p.NotParticipating)
		if r.Method == "borda" {
			line += fmt.Sprintf("  %8d", p.BordaPoints)
		}
		lines = append(lines, formatInfoLine(truncToWidth(line, m.width-2), m.width))
	}

	bottomBorder := "└" + strings.Repeat("─", m.width-2) + "┘"
	help := formatInfoLine(" up/down: select round   q: quit", m.width)
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" + help + "\n" + bottomBorder
}

// Run starts the TUI program
func Run(updateCh <-chan interface{}) error {
	m := NewModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Start goroutine to receive updates
	go func() {
		for data := range updateCh {
			if update, ok := data.(RoundUpdate); ok {
				p.Send(UpdateMsg{Round: update})
			}
		}
		// Channel closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	return err
}
