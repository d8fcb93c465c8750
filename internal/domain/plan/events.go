package plan

// Event type vocabulary. The event log is append-only and these are the
// only types it carries; read models fold over them.
const (
	EventAppointmentIngested    = "appointment_ingested"
	EventRiskScored             = "risk_scored"
	EventActionsSequenced       = "actions_sequenced"
	EventPolicyDecision         = "policy_decision"
	EventProposalGenerated      = "proposal_generated"
	EventProposalRejected       = "proposal_rejected"
	EventProposalSubmitted      = "proposal_submitted"
	EventProposalApproved       = "proposal_approved"
	EventWebhookRejected        = "webhook_rejected"
	EventWebhookDuplicate       = "webhook_duplicate"
	EventActionGatesPassed      = "action_gates_passed"
	EventActionBlocked          = "action_blocked"
	EventActionExecuted         = "action_executed"
	EventActionFailed           = "action_failed"
	EventProposalExecuted       = "proposal_executed"
	EventNoShowRecorded         = "no_show_recorded"
	EventAppointmentConfirmed   = "appointment_confirmed"
	EventAppointmentRescheduled = "appointment_rescheduled"
)
