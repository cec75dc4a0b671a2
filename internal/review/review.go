// Package review is the interactive queue behind 'kodo learn review'.
// It walks pending learnings one at a time; accepting promotes the
// record to active, rejecting archives it, skipping leaves it pending.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/paxtone-io/openkodo/internal/store"
)

// decisionTimeout bounds one store write.
const decisionTimeout = 5 * time.Second

// Reviewer applies one accept/reject decision.
type Reviewer interface {
	Review(ctx context.Context, id string, accept bool) (*store.Learning, error)
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	categoryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45")).
			Bold(true)

	statementStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true).
			MarginTop(1).
			MarginBottom(1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	highStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	mediumStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	lowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	acceptedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46"))

	rejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)
)

// Summary tallies one review session.
type Summary struct {
	Accepted  int
	Rejected  int
	Skipped   int
	Remaining int
}

// Message types.
type decidedMsg struct {
	id       string
	accepted bool
}
type errMsg error

// Model is the BubbleTea model for the review queue.
type Model struct {
	curator  Reviewer
	queue    []*store.Learning
	pos      int
	progress progress.Model

	accepted int
	rejected int
	skipped  int

	busy     bool
	err      error
	quitting bool
}

// NewModel builds the model over an already-loaded pending queue.
func NewModel(curator Reviewer, queue []*store.Learning) Model {
	bar := progress.New(
		progress.WithGradient("#00ffff", "#00ff00"),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)
	return Model{curator: curator, queue: queue, progress: bar}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if len(m.queue) == 0 {
		return tea.Quit
	}
	return nil
}

// decide writes one decision off the update loop.
func (m Model) decide(accept bool) tea.Cmd {
	rec := m.queue[m.pos]
	curator := m.curator
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), decisionTimeout)
		defer cancel()
		if _, err := curator.Review(ctx, rec.ID, accept); err != nil {
			return errMsg(err)
		}
		return decidedMsg{id: rec.ID, accepted: accept}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.busy {
			return m, nil
		}
		m.err = nil
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "a", "y":
			if m.done() {
				return m, nil
			}
			m.busy = true
			return m, m.decide(true)
		case "r", "n":
			if m.done() {
				return m, nil
			}
			m.busy = true
			return m, m.decide(false)
		case "s":
			if m.done() {
				return m, nil
			}
			m.skipped++
			m.pos++
			if m.done() {
				return m, tea.Quit
			}
		}

	case decidedMsg:
		m.busy = false
		if msg.accepted {
			m.accepted++
		} else {
			m.rejected++
		}
		m.pos++
		if m.done() {
			return m, tea.Quit
		}

	case errMsg:
		// The record stays on screen so the failure can be skipped
		// or retried.
		m.busy = false
		m.err = error(msg)
	}

	return m, nil
}

func (m Model) done() bool {
	return m.pos >= len(m.queue)
}

// Summary reports the tally, counting undecided records as remaining.
func (m Model) Summary() Summary {
	return Summary{
		Accepted:  m.accepted,
		Rejected:  m.rejected,
		Skipped:   m.skipped,
		Remaining: len(m.queue) - m.accepted - m.rejected,
	}
}

// View renders the current record or the closing summary.
func (m Model) View() string {
	if len(m.queue) == 0 {
		return dimStyle.Render("No pending learnings to review.") + "\n"
	}
	if m.done() || m.quitting {
		return m.renderSummary()
	}
	return m.renderRecord()
}

func (m Model) renderRecord() string {
	rec := m.queue[m.pos]

	header := headerStyle.Render(fmt.Sprintf("review %d/%d", m.pos+1, len(m.queue))) +
		"  " + m.progress.ViewAs(float64(m.pos)/float64(len(m.queue)))

	meta := categoryStyle.Render(string(rec.Category)) +
		dimStyle.Render("  ·  ") + confidenceBadge(rec.Confidence) +
		dimStyle.Render("  ·  recorded "+rec.CreatedAt.Format("2006-01-02"))
	if rec.AgentScope != "" {
		meta += dimStyle.Render("  ·  agent ") + categoryStyle.Render(rec.AgentScope)
	}

	body := meta + "\n" + statementStyle.Render(rec.Statement)
	if excerpt := firstExcerpt(rec); excerpt != "" {
		body += "\n" + dimStyle.Render("“"+excerpt+"”")
	}
	if n := len(rec.Evidence); n > 1 {
		body += "\n" + dimStyle.Render(fmt.Sprintf("seen %d times", n))
	}
	if m.err != nil {
		body += "\n" + errorStyle.Render("error: "+m.err.Error())
	}
	if m.busy {
		body += "\n" + dimStyle.Render("saving…")
	}

	footer := footerStyle.Render(
		footerKeyStyle.Render("a") + " accept  " +
			footerKeyStyle.Render("r") + " reject  " +
			footerKeyStyle.Render("s") + " skip  " +
			footerKeyStyle.Render("q") + " quit")

	return header + "\n" + containerStyle.Render(body) + "\n" + footer + "\n"
}

func (m Model) renderSummary() string {
	s := m.Summary()
	line := acceptedStyle.Render(fmt.Sprintf("%d accepted", s.Accepted)) +
		dimStyle.Render("  ·  ") +
		rejectedStyle.Render(fmt.Sprintf("%d rejected", s.Rejected)) +
		dimStyle.Render(fmt.Sprintf("  ·  %d skipped", s.Skipped))
	if s.Remaining > 0 {
		line += dimStyle.Render(fmt.Sprintf("  ·  %d still pending", s.Remaining))
	}
	return headerStyle.Render("review complete") + "\n" + line + "\n"
}

func confidenceBadge(c store.Confidence) string {
	switch c {
	case store.ConfidenceHigh:
		return highStyle.Render(string(c))
	case store.ConfidenceMedium:
		return mediumStyle.Render(string(c))
	default:
		return lowStyle.Render(string(c))
	}
}

func firstExcerpt(rec *store.Learning) string {
	for _, ev := range rec.Evidence {
		if ev.Excerpt != "" {
			return ev.Excerpt
		}
	}
	return ""
}

// Run drives the queue on the attached terminal and reports the tally.
func Run(curator Reviewer, queue []*store.Learning) (Summary, error) {
	final, err := tea.NewProgram(NewModel(curator, queue)).Run()
	if err != nil {
		return Summary{}, fmt.Errorf("review ui: %w", err)
	}
	return final.(Model).Summary(), nil
}
