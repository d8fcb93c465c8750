// Package opsconsole is the terminal dashboard for operators: recent
// proposals on the left, the event timeline of the selected proposal on
// the right, outcome totals at the bottom. Read only; approvals happen in
// the approval repository, never here.
package opsconsole

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cacp/internal/domain/plan"
	"cacp/internal/ports"
	"cacp/internal/usecase/orchestrator"
	"cacp/internal/usecase/outcomes"
)

const (
	maxListedProposals = 30
	maxShownEvents     = 12
)

type Options struct {
	RefreshInterval time.Duration
}

type consoleModel struct {
	ctx             context.Context
	orchestrator    *orchestrator.Service
	outcomes        *outcomes.Service
	refreshInterval time.Duration

	proposals     []plan.Proposal
	selectedIndex int
	timeline      []ports.Event
	stats         outcomes.Stats
	status        string
}

type proposalsLoadedMsg struct {
	proposals []plan.Proposal
	err       error
}

type timelineLoadedMsg struct {
	proposalID string
	events     []ports.Event
	err        error
}

type statsLoadedMsg struct {
	stats outcomes.Stats
	err   error
}

type tickMsg struct{}

func NewModel(ctx context.Context, orchestratorSvc *orchestrator.Service, outcomesSvc *outcomes.Service, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &consoleModel{
		ctx:             ctx,
		orchestrator:    orchestratorSvc,
		outcomes:        outcomesSvc,
		refreshInterval: interval,
		status:          "loading",
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.loadProposalsCmd(), m.loadStatsCmd(), m.tickCmd())
}

func (m *consoleModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadProposalsCmd(), m.loadStatsCmd(), m.tickCmd())
	case proposalsLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.proposals = msg.proposals
		if len(m.proposals) == 0 {
			m.selectedIndex = 0
			m.timeline = nil
			m.status = "no proposals yet"
			return m, nil
		}
		if m.selectedIndex >= len(m.proposals) {
			m.selectedIndex = len(m.proposals) - 1
		}
		m.status = fmt.Sprintf("%d proposals", len(m.proposals))
		return m, m.loadTimelineCmd()
	case timelineLoadedMsg:
		if !m.isSelected(msg.proposalID) {
			return m, nil
		}
		if msg.err != nil {
			m.status = "timeline failed: " + msg.err.Error()
			return m, nil
		}
		m.timeline = msg.events
		return m, nil
	case statsLoadedMsg:
		if msg.err == nil {
			m.stats = msg.stats
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.loadProposalsCmd(), m.loadStatsCmd())
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadTimelineCmd()
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.proposals)-1 {
				m.selectedIndex++
				return m, m.loadTimelineCmd()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m *consoleModel) isSelected(proposalID string) bool {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.proposals) {
		return false
	}
	return m.proposals[m.selectedIndex].ProposalID == proposalID
}

func (m *consoleModel) loadProposalsCmd() tea.Cmd {
	return func() tea.Msg {
		proposals, err := m.orchestrator.ListProposals(m.ctx, maxListedProposals)
		return proposalsLoadedMsg{proposals: proposals, err: err}
	}
}

func (m *consoleModel) loadTimelineCmd() tea.Cmd {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.proposals) {
		return nil
	}
	proposalID := m.proposals[m.selectedIndex].ProposalID
	return func() tea.Msg {
		events, err := m.orchestrator.Timeline(m.ctx, proposalID)
		return timelineLoadedMsg{proposalID: proposalID, events: events, err: err}
	}
}

func (m *consoleModel) loadStatsCmd() tea.Cmd {
	return func() tea.Msg {
		stats, err := m.outcomes.NoShowStats(m.ctx)
		return statsLoadedMsg{stats: stats, err: err}
	}
}

func (m *consoleModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyles  = map[plan.Status]lipgloss.Style{
		plan.StatusSigned:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		plan.StatusSubmitted: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		plan.StatusApproved:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		plan.StatusExecuted:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		plan.StatusRejected:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("cacp proposals"))
	b.WriteString("\n\n")

	if len(m.proposals) == 0 {
		b.WriteString(dimStyle.Render("  (empty)"))
		b.WriteString("\n")
	}
	for i, proposal := range m.proposals {
		line := fmt.Sprintf("%-36s %-8s %-9s %.4f", proposal.ProposalID, proposal.RiskTier, proposal.Status, proposal.RiskScore)
		if style, ok := statusStyles[proposal.Status]; ok {
			line = style.Render(line)
		}
		if i == m.selectedIndex {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.timeline) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("timeline"))
		b.WriteString("\n")
		events := m.timeline
		if len(events) > maxShownEvents {
			events = events[len(events)-maxShownEvents:]
		}
		for _, event := range events {
			b.WriteString(fmt.Sprintf("  %s  %s\n", dimStyle.Render(event.CreatedAt), event.EventType))
		}
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("ingested %d  confirmed %d  no-shows %d  no-show rate %.1f%%\n",
		m.stats.AppointmentsIngested, m.stats.Confirmed, m.stats.NoShows, m.stats.NoShowRate*100))
	b.WriteString(dimStyle.Render(m.status + "  [j/k move, r refresh, q quit]"))
	b.WriteString("\n")

	return b.String()
}
