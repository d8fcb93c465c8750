package opsconsole

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"cacp/internal/domain/plan"
	"cacp/internal/ports"
	"cacp/internal/usecase/outcomes"
)

func TestProposalsLoadedClampsSelection(t *testing.T) {
	model := &consoleModel{
		ctx:           context.Background(),
		selectedIndex: 5,
	}

	nextModel, _ := model.Update(proposalsLoadedMsg{proposals: []plan.Proposal{
		{ProposalID: "P1", Status: plan.StatusSigned},
		{ProposalID: "P2", Status: plan.StatusSubmitted},
	}})

	updated, ok := nextModel.(*consoleModel)
	if !ok {
		t.Fatalf("type assertion failed: %T", nextModel)
	}
	if updated.selectedIndex != 1 {
		t.Fatalf("selectedIndex = %d, want 1", updated.selectedIndex)
	}
	if updated.status != "2 proposals" {
		t.Fatalf("status = %q", updated.status)
	}
}

func TestProposalsLoadedEmptyClearsTimeline(t *testing.T) {
	model := &consoleModel{
		ctx:      context.Background(),
		timeline: []ports.Event{{EventType: "proposal_generated"}},
	}

	nextModel, _ := model.Update(proposalsLoadedMsg{})

	updated := nextModel.(*consoleModel)
	if len(updated.timeline) != 0 {
		t.Fatalf("timeline should be cleared, got %d events", len(updated.timeline))
	}
	if updated.status != "no proposals yet" {
		t.Fatalf("status = %q", updated.status)
	}
}

func TestTimelineLoadedIgnoresStaleSelection(t *testing.T) {
	model := &consoleModel{
		ctx: context.Background(),
		proposals: []plan.Proposal{
			{ProposalID: "P1"},
			{ProposalID: "P2"},
		},
		selectedIndex: 1,
	}

	nextModel, _ := model.Update(timelineLoadedMsg{
		proposalID: "P1",
		events:     []ports.Event{{EventType: "proposal_generated"}},
	})

	updated := nextModel.(*consoleModel)
	if len(updated.timeline) != 0 {
		t.Fatalf("stale timeline should be ignored, got %d events", len(updated.timeline))
	}

	nextModel, _ = updated.Update(timelineLoadedMsg{
		proposalID: "P2",
		events:     []ports.Event{{EventType: "proposal_generated"}, {EventType: "proposal_submitted"}},
	})
	updated = nextModel.(*consoleModel)
	if len(updated.timeline) != 2 {
		t.Fatalf("current timeline should apply, got %d events", len(updated.timeline))
	}
}

func keyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

func TestNavigationStaysInBounds(t *testing.T) {
	model := &consoleModel{
		ctx: context.Background(),
		proposals: []plan.Proposal{
			{ProposalID: "P1"},
			{ProposalID: "P2"},
		},
	}

	if m, _ := model.Update(keyMsg("k")); m.(*consoleModel).selectedIndex != 0 {
		t.Fatalf("up at top moved selection")
	}
	if m, _ := model.Update(keyMsg("j")); m.(*consoleModel).selectedIndex != 1 {
		t.Fatalf("down did not move selection")
	}
	if m, _ := model.Update(keyMsg("j")); m.(*consoleModel).selectedIndex != 1 {
		t.Fatalf("down at bottom moved selection")
	}
}

func TestViewRendersProposalsAndStats(t *testing.T) {
	model := &consoleModel{
		ctx: context.Background(),
		proposals: []plan.Proposal{
			{ProposalID: "P1", RiskTier: plan.TierHigh, Status: plan.StatusApproved, RiskScore: 0.71},
		},
		timeline: []ports.Event{
			{EventType: "proposal_generated", CreatedAt: "2026-09-14T12:00:00Z"},
			{EventType: "proposal_approved", CreatedAt: "2026-09-14T12:05:00Z"},
		},
		stats:  outcomes.Stats{AppointmentsIngested: 4, Confirmed: 2, NoShows: 1, NoShowRate: 0.25},
		status: "1 proposals",
	}

	view := model.View()
	if !strings.Contains(view, "P1") {
		t.Fatalf("view missing proposal id: %s", view)
	}
	if !strings.Contains(view, "proposal_approved") {
		t.Fatalf("view missing timeline event: %s", view)
	}
	if !strings.Contains(view, "no-show rate 25.0%") {
		t.Fatalf("view missing stats line: %s", view)
	}
}
