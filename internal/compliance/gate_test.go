package compliance

import (
	"strings"
	"testing"

	"cacp/internal/domain/plan"
	"cacp/internal/policy"
	"cacp/internal/tenant"
)

func allow() policy.Decision {
	return policy.Decision{Result: policy.ResultAllow, PolicyVersion: "2026.09"}
}

func actions(n int) []plan.Action {
	out := make([]plan.Action, n)
	for i := range out {
		out[i] = plan.Action{ActionType: plan.ActionSendReminder, Channel: "sms", HoursBefore: 24}
	}
	return out
}

func TestEvaluateCompliant(t *testing.T) {
	gate := NewGate()
	got := gate.Evaluate(actions(2), tenant.Default("CLINIC-1"), 0, allow())
	if !got.Compliant {
		t.Fatalf("Evaluate() = non-compliant, reasons %v", got.Reasons)
	}
	if len(got.Reasons) != 0 {
		t.Fatalf("Evaluate() reasons = %v, want none", got.Reasons)
	}
}

func TestEvaluateLocalCapBeatsGatewayAllow(t *testing.T) {
	gate := NewGate()
	profile := tenant.Default("CLINIC-1")
	profile.Messaging.MaxMessagesPerPatientPerDay = 3

	// Counter already at cap: deny even though the evaluator allows.
	got := gate.Evaluate(actions(1), profile, 3, allow())
	if got.Compliant {
		t.Fatal("Evaluate() = compliant with counter at daily cap")
	}
	if !hasReasonPrefix(got.Reasons, plan.ReasonRateLimitExceeded) {
		t.Fatalf("Evaluate() reasons = %v, want RATE_LIMIT_EXCEEDED", got.Reasons)
	}
}

func TestEvaluateCollectsAllReasons(t *testing.T) {
	gate := NewGate()
	profile := tenant.Default("CLINIC-1")
	profile.Messaging.MaxMessagesPerPatientPerDay = 2

	deny := policy.Decision{Result: policy.ResultDeny, Reasons: []string{"consent_missing"}}
	got := gate.Evaluate(actions(3), profile, 2, deny)
	if got.Compliant {
		t.Fatal("Evaluate() = compliant, want denial")
	}
	// Two local cap violations plus the gateway reason.
	if len(got.Reasons) != 3 {
		t.Fatalf("Evaluate() reasons = %v, want 3 entries", got.Reasons)
	}
	if got.Reasons[len(got.Reasons)-1] != "consent_missing" {
		t.Fatalf("Evaluate() reasons = %v, want gateway reason last", got.Reasons)
	}
}

func TestEvaluateDisallowedChannel(t *testing.T) {
	gate := NewGate()
	profile := tenant.Default("CLINIC-1")
	profile.Messaging.AllowedChannels = []string{"sms"}

	got := gate.Evaluate([]plan.Action{{ActionType: plan.ActionSendReminder, Channel: "email"}}, profile, 0, allow())
	if got.Compliant {
		t.Fatal("Evaluate() = compliant for disallowed channel")
	}
	if !hasReasonPrefix(got.Reasons, plan.ReasonNoEligibleAction) {
		t.Fatalf("Evaluate() reasons = %v, want NO_ELIGIBLE_ACTION", got.Reasons)
	}
}

func TestEvaluateGatewayDenyWithoutReasons(t *testing.T) {
	gate := NewGate()
	got := gate.Evaluate(actions(1), tenant.Default("CLINIC-1"), 0, policy.Decision{Result: policy.ResultDeny})
	if got.Compliant {
		t.Fatal("Evaluate() = compliant on bare gateway denial")
	}
	if !hasReasonPrefix(got.Reasons, plan.ReasonPolicyDenied) {
		t.Fatalf("Evaluate() reasons = %v, want POLICY_DENIED", got.Reasons)
	}
}

func hasReasonPrefix(reasons []string, prefix string) bool {
	for _, reason := range reasons {
		if strings.HasPrefix(reason, prefix) {
			return true
		}
	}
	return false
}
