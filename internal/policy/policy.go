// Package policy defines the fixed evaluator contract and the fail-closed
// gateway in front of it.
package policy

import (
	"context"
	"fmt"

	"cacp/internal/domain/plan"
)

// Input is the contract-frozen field set sent to the external evaluator.
// Adding a field requires a coordinated InputVersion bump; removing or
// repurposing one is forbidden.
type Input struct {
	Action            string  `json:"action"`
	Role              string  `json:"role"`
	Mode              string  `json:"mode"`
	PatientID         string  `json:"patient_id"`
	ClinicID          string  `json:"clinic_id"`
	MessagesSentToday int     `json:"messages_sent_today"`
	DailyLimit        int     `json:"daily_limit"`
	RiskScore         float64 `json:"risk_score"`
	Environment       string  `json:"environment"`
}

const InputVersion = "v1"

const (
	ResultAllow = "ALLOW"
	ResultDeny  = "DENY"
)

// Decision is the gateway verdict. Detail carries the failure description
// on the fail-closed path and stays empty on a real evaluator verdict.
type Decision struct {
	Result        string   `json:"result"`
	Reasons       []string `json:"reasons"`
	PolicyVersion string   `json:"policy_version"`
	Detail        string   `json:"detail,omitempty"`
}

func (d Decision) Allowed() bool {
	return d.Result == ResultAllow
}

// Evaluator is the transport-level client. Implementations return an error
// for anything other than a well-formed verdict.
type Evaluator interface {
	Evaluate(ctx context.Context, input Input) (Decision, error)
}

// Gateway maps every evaluator failure to an explicit denial. There is no
// permissive fallback under any error condition.
type Gateway struct {
	evaluator Evaluator
}

func NewGateway(evaluator Evaluator) *Gateway {
	return &Gateway{evaluator: evaluator}
}

// Decide never returns an error: transport errors, timeouts, and malformed
// responses all come back as DENY with reason OPA_UNAVAILABLE.
func (g *Gateway) Decide(ctx context.Context, input Input) Decision {
	if g.evaluator == nil {
		return unavailable("no evaluator configured")
	}

	decision, err := g.evaluator.Evaluate(ctx, input)
	if err != nil {
		return unavailable(err.Error())
	}
	if decision.Result != ResultAllow && decision.Result != ResultDeny {
		return unavailable(fmt.Sprintf("malformed verdict %q", decision.Result))
	}
	return decision
}

func unavailable(detail string) Decision {
	return Decision{
		Result:  ResultDeny,
		Reasons: []string{plan.ReasonOPAUnavailable},
		Detail:  detail,
	}
}
