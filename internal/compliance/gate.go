// Package compliance combines local deterministic limits with the policy
// gateway verdict into a single allow/deny with the full reason set.
package compliance

import (
	"fmt"

	"cacp/internal/domain/plan"
	"cacp/internal/policy"
	"cacp/internal/tenant"
)

type Result struct {
	Compliant bool
	// Reasons holds every violated reason, not just the first, so
	// downstream logging is complete.
	Reasons  []string
	Decision policy.Decision
}

type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Evaluate is a pure decision function over the candidate actions, the
// clinic profile, the current sent-today counter, and the gateway verdict.
// AND semantics: compliant only when every local check passes and the
// gateway allows.
func (g *Gate) Evaluate(
	actions []plan.Action,
	profile tenant.Profile,
	messagesSentToday int,
	decision policy.Decision,
) Result {
	reasons := make([]string, 0, 4)

	cap := profile.Messaging.MaxMessagesPerPatientPerDay
	if cap > 0 && len(actions) > cap {
		reasons = append(reasons, fmt.Sprintf("%s: plan has %d actions, daily limit is %d",
			plan.ReasonRateLimitExceeded, len(actions), cap))
	}
	if cap > 0 && messagesSentToday >= cap {
		reasons = append(reasons, fmt.Sprintf("%s: %d messages already sent today, daily limit is %d",
			plan.ReasonRateLimitExceeded, messagesSentToday, cap))
	}
	for _, action := range actions {
		if !profile.ChannelAllowed(action.Channel) {
			reasons = append(reasons, fmt.Sprintf("%s: channel %q is not allowed for clinic %s",
				plan.ReasonNoEligibleAction, action.Channel, profile.ClinicID))
		}
	}

	if !decision.Allowed() {
		if len(decision.Reasons) == 0 {
			reasons = append(reasons, plan.ReasonPolicyDenied)
		}
		reasons = append(reasons, decision.Reasons...)
	}

	return Result{
		Compliant: len(reasons) == 0,
		Reasons:   reasons,
		Decision:  decision,
	}
}
