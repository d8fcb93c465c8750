package plan

import (
	"fmt"
	"strings"
	"time"
)

// Appointment is the ingested unit. It is immutable after ingestion;
// downstream entities reference it by AppointmentID only.
type Appointment struct {
	AppointmentID   string
	PatientID       string
	ClinicID        string
	ScheduledAt     string // RFC 3339
	TreatmentType   string
	IsFirstVisit    bool
	PreviousNoShows int
	PatientPhone    string
	PatientWhatsApp bool
	ConsentGiven    bool
}

// Validate checks the required identity fields. ScheduledAt is checked for
// shape only; a missing or odd timestamp degrades to neutral risk signals,
// it does not reject the record.
func (a Appointment) Validate() error {
	if strings.TrimSpace(a.AppointmentID) == "" {
		return fmt.Errorf("%w: appointment_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(a.PatientID) == "" {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(a.ClinicID) == "" {
		return fmt.Errorf("%w: clinic_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(a.ScheduledAt) == "" {
		return fmt.Errorf("%w: scheduled_at is required", ErrInvalidRequest)
	}
	if _, err := time.Parse(time.RFC3339, a.ScheduledAt); err != nil {
		return fmt.Errorf("%w: scheduled_at must be RFC 3339: %q", ErrInvalidRequest, a.ScheduledAt)
	}
	return nil
}

type RiskTier string

const (
	TierLow    RiskTier = "low"
	TierMedium RiskTier = "medium"
	TierHigh   RiskTier = "high"
)

// RiskAssessment is produced once per ingested appointment and never
// recomputed in place; re-ingestion produces a new assessment.
type RiskAssessment struct {
	AssessmentID  string
	AppointmentID string
	Score         float64
	Tier          RiskTier
	ScorerVersion string
	Factors       map[string]float64
}

// Action is one candidate step of a proposal.
type Action struct {
	ActionType  string `json:"action_type" yaml:"action_type"`
	Channel     string `json:"channel" yaml:"channel"`
	Template    string `json:"template" yaml:"template"`
	HoursBefore int    `json:"hours_before" yaml:"hours_before"`
}

const (
	ActionSendReminder     = "send_reminder"
	ActionSendConfirmation = "send_confirmation"
	ActionReschedule       = "reschedule"
)

// ContractVersion tags the proposal wire format. Bumped together with any
// change to the signed manifest layout.
const ContractVersion = "1.0.0"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusValidated Status = "validated"
	StatusSigned    Status = "signed"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExecuted  Status = "executed"
	StatusExpired   Status = "expired"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusValidated, StatusRejected},
	StatusValidated: {StatusSigned, StatusRejected},
	StatusSigned:    {StatusSubmitted, StatusApproved, StatusRejected, StatusExpired},
	StatusSubmitted: {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:  {StatusExecuted, StatusExpired},
}

// CanTransition reports whether a proposal may move from one lifecycle
// status to another. Terminal statuses have no outgoing transitions.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Proposal is an ordered set of candidate actions awaiting external
// approval. Once signed it is immutable; any change invalidates the
// signature and must produce a new proposal with a new identifier.
type Proposal struct {
	ProposalID    string
	AppointmentID string
	PatientID     string
	ClinicID      string
	RiskTier      RiskTier
	RiskScore     float64
	Actions       []Action
	Reasons       []string
	Signature     string
	Version       string
	Status        Status
	CreatedAt     string
	UpdatedAt     string
}
