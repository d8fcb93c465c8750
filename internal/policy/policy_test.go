package policy

import (
	"context"
	"errors"
	"testing"

	"cacp/internal/domain/plan"
)

type stubEvaluator struct {
	decision Decision
	err      error
}

func (s stubEvaluator) Evaluate(_ context.Context, _ Input) (Decision, error) {
	return s.decision, s.err
}

func TestGatewayPassesThroughVerdicts(t *testing.T) {
	allow := Decision{Result: ResultAllow, PolicyVersion: "2026.09"}
	gw := NewGateway(stubEvaluator{decision: allow})

	got := gw.Decide(context.Background(), Input{Action: "send_reminder"})
	if !got.Allowed() {
		t.Fatalf("Decide() = %v, want ALLOW", got)
	}
	if got.PolicyVersion != "2026.09" {
		t.Fatalf("Decide() policy version = %q, want 2026.09", got.PolicyVersion)
	}

	deny := Decision{Result: ResultDeny, Reasons: []string{"quiet_hours"}}
	gw = NewGateway(stubEvaluator{decision: deny})
	got = gw.Decide(context.Background(), Input{})
	if got.Allowed() || len(got.Reasons) != 1 {
		t.Fatalf("Decide() = %v, want DENY with one reason", got)
	}
}

func TestGatewayFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		stub stubEvaluator
	}{
		{"transport error", stubEvaluator{err: errors.New("connection refused")}},
		{"timeout", stubEvaluator{err: context.DeadlineExceeded}},
		{"garbage verdict", stubEvaluator{decision: Decision{Result: "MAYBE"}}},
		{"empty verdict", stubEvaluator{decision: Decision{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := NewGateway(tc.stub)
			got := gw.Decide(context.Background(), Input{Action: "send_reminder"})
			if got.Allowed() {
				t.Fatal("Decide() = ALLOW on evaluator failure")
			}
			if len(got.Reasons) != 1 || got.Reasons[0] != plan.ReasonOPAUnavailable {
				t.Fatalf("Decide() reasons = %v, want [OPA_UNAVAILABLE]", got.Reasons)
			}
			if got.Detail == "" {
				t.Fatal("Decide() detail empty, want failure description")
			}
		})
	}

	got := NewGateway(nil).Decide(context.Background(), Input{})
	if got.Allowed() {
		t.Fatal("Decide() = ALLOW with nil evaluator")
	}
}
