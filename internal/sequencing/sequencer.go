// Package sequencing turns a risk assessment into an ordered list of
// candidate messaging actions, bounded by the clinic profile.
package sequencing

import (
	"sort"

	"cacp/internal/domain/plan"
	"cacp/internal/tenant"
)

// Sequence is the ordered candidate list plus the estimated confirmation
// lift for the tier.
type Sequence struct {
	Actions      []plan.Action
	ExpectedLift float64
}

type candidate struct {
	action   plan.Action
	priority int
}

// Candidate playbooks per tier. Higher priority runs first; equal
// priorities keep declaration order (stable sort).
func tierCandidates(tier plan.RiskTier) ([]candidate, float64) {
	switch tier {
	case plan.TierLow:
		return []candidate{
			{plan.Action{ActionType: plan.ActionSendReminder, Template: "confirm_reminder_v2", HoursBefore: 24}, 10},
		}, 0.05
	case plan.TierMedium:
		return []candidate{
			{plan.Action{ActionType: plan.ActionSendReminder, Template: "confirm_reminder_v2", HoursBefore: 48}, 10},
			{plan.Action{ActionType: plan.ActionSendConfirmation, Template: "urgency_short", HoursBefore: 24}, 8},
		}, 0.15
	case plan.TierHigh:
		return []candidate{
			{plan.Action{ActionType: plan.ActionSendReminder, Template: "confirm_reminder_v2", HoursBefore: 48}, 10},
			{plan.Action{ActionType: plan.ActionSendConfirmation, Template: "urgency_short", HoursBefore: 24}, 8},
			{plan.Action{ActionType: plan.ActionReschedule, Template: "reschedule_offer", HoursBefore: 2}, 5},
		}, 0.25
	default:
		return nil, 0
	}
}

type Sequencer struct{}

func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Generate builds the candidate sequence for an assessment. An appointment
// that ends up with no viable action reports ErrNoEligibleAction
// explicitly, never an empty success.
func (s *Sequencer) Generate(assessment plan.RiskAssessment, profile tenant.Profile) (Sequence, error) {
	candidates, lift := tierCandidates(assessment.Tier)
	if len(candidates) == 0 {
		return Sequence{}, plan.ErrNoEligibleAction
	}

	channel := profile.Messaging.PreferredChannel
	if !profile.ChannelAllowed(channel) {
		channel = ""
		for _, allowed := range profile.Messaging.AllowedChannels {
			channel = allowed
			break
		}
	}
	if channel == "" {
		return Sequence{}, plan.ErrNoEligibleAction
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	limit := profile.Messaging.MaxActionsPerPlan
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	actions := make([]plan.Action, 0, len(candidates))
	for _, c := range candidates {
		action := c.action
		action.Channel = channel
		actions = append(actions, action)
	}

	return Sequence{Actions: actions, ExpectedLift: lift}, nil
}
