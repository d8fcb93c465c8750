package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/compliance"
	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/policy"
	"cacp/internal/ports"
	"cacp/internal/sequencing"
	"cacp/internal/signing"
)

const eventActor = "orchestrator"

// ProcessAppointment runs the whole pipeline for one appointment. The
// appointment is scored and sequenced, the policy gateway and local limits
// decide, and the outcome is persisted in a single transaction: either a
// signed proposal plus its pipeline events, or a rejected proposal carrying
// every violated reason. Submission to the approval repository happens
// after the transaction commits; a submission failure leaves the proposal
// signed so it can be resubmitted later.
func (s *Service) ProcessAppointment(ctx context.Context, appt plan.Appointment) (ProcessResult, error) {
	if err := appt.Validate(); err != nil {
		return ProcessResult{}, err
	}

	ctx = logging.WithAttrs(ctx,
		slog.String("appointment_id", appt.AppointmentID),
		slog.String("clinic_id", appt.ClinicID),
	)

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	assessment := s.scorer.Score(appt)
	profile := s.profiles.Get(appt.ClinicID)
	sequence, seqErr := s.sequencer.Generate(assessment, profile)
	if seqErr != nil && !errors.Is(seqErr, plan.ErrNoEligibleAction) {
		return ProcessResult{}, seqErr
	}

	var (
		decision    policy.Decision
		policyInput policy.Input
		gateResult  compliance.Result
		sentToday   int
	)
	windowStart := now.Add(-24 * time.Hour).Format(time.RFC3339Nano)
	if seqErr == nil {
		channel := sequence.Actions[0].Channel
		count, err := s.counters.CountSince(ctx, appt.PatientID, channel, windowStart)
		if err != nil {
			return ProcessResult{}, errs.Wrap(err, "count recent sends")
		}
		sentToday = count

		policyInput = policy.Input{
			Action:            "schedule_outreach",
			Role:              "revenue_agent",
			Mode:              "autonomous",
			PatientID:         appt.PatientID,
			ClinicID:          appt.ClinicID,
			MessagesSentToday: sentToday,
			DailyLimit:        profile.Messaging.MaxMessagesPerPatientPerDay,
			RiskScore:         assessment.Score,
			Environment:       s.environment,
		}
		decision = s.gateway.Decide(ctx, policyInput)
		gateResult = s.gate.Evaluate(sequence.Actions, profile, sentToday, decision)
	}

	actions := sequence.Actions
	if actions == nil {
		actions = []plan.Action{}
	}
	proposal := plan.Proposal{
		ProposalID:    uuid.NewString(),
		AppointmentID: appt.AppointmentID,
		PatientID:     appt.PatientID,
		ClinicID:      appt.ClinicID,
		RiskTier:      assessment.Tier,
		RiskScore:     assessment.Score,
		Actions:       actions,
		Reasons:       []string{},
		Version:       plan.ContractVersion,
		CreatedAt:     nowStr,
		UpdatedAt:     nowStr,
	}

	switch {
	case seqErr != nil:
		proposal.Status = plan.StatusRejected
		proposal.Reasons = []string{plan.ReasonNoEligibleAction}
	case !gateResult.Compliant:
		proposal.Status = plan.StatusRejected
		proposal.Reasons = gateResult.Reasons
	default:
		signature, err := signing.Sign(plan.ManifestPayload(proposal, s.environment), s.signingKey)
		if err != nil {
			return ProcessResult{}, errs.Wrap(err, "sign proposal")
		}
		proposal.Signature = signature
		proposal.Status = plan.StatusSigned
	}

	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if bootErr := s.bootstrapConsent(txCtx, appt, nowStr); bootErr != nil {
			return bootErr
		}
		if appendErr := s.appendPipelineEvents(txCtx, appt, assessment, sequence, seqErr == nil, policyInput, decision); appendErr != nil {
			return appendErr
		}
		if createErr := s.proposals.Create(txCtx, proposal); createErr != nil {
			return errs.Wrap(createErr, "create proposal")
		}

		eventType := plan.EventProposalGenerated
		payload := plan.ManifestPayload(proposal, s.environment)
		if proposal.Status == plan.StatusRejected {
			eventType = plan.EventProposalRejected
			payload = map[string]any{
				"plan_id":        proposal.ProposalID,
				"appointment_id": proposal.AppointmentID,
				"reasons":        proposal.Reasons,
			}
		}
		_, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
			EventType:   eventType,
			AggregateID: proposal.ProposalID,
			Payload:     payload,
			Actor:       eventActor,
		})
		return appendErr
	})
	if err != nil {
		return ProcessResult{}, err
	}

	result := ProcessResult{
		Proposal:   proposal,
		Assessment: assessment,
		Rejected:   proposal.Status == plan.StatusRejected,
		Reasons:    proposal.Reasons,
	}
	if result.Rejected {
		logging.Info(ctx, "proposal rejected",
			slog.String("proposal_id", proposal.ProposalID),
			slog.Any("reasons", proposal.Reasons))
		return result, nil
	}

	logging.Info(ctx, "proposal signed",
		slog.String("proposal_id", proposal.ProposalID),
		slog.String("risk_tier", string(proposal.RiskTier)))

	submission, submitErr := s.submitSigned(ctx, proposal)
	if submitErr != nil {
		// The proposal stays signed; Resubmit picks it up later.
		logging.Warn(ctx, "proposal submission failed",
			slog.String("proposal_id", proposal.ProposalID),
			slog.Any("err", errs.Loggable(submitErr)))
		return result, nil
	}

	result.Submitted = true
	result.Submission = submission
	result.Proposal.Status = plan.StatusSubmitted
	return result, nil
}

// bootstrapConsent seeds the consent store from the ingested record so a
// clinic-collected opt-in counts without a separate API call. Absence of
// consent_given is not a revocation; only an explicit revoke clears it.
func (s *Service) bootstrapConsent(ctx context.Context, appt plan.Appointment, nowStr string) error {
	if s.consents == nil || !appt.ConsentGiven {
		return nil
	}
	if err := s.consents.Grant(ctx, appt.PatientID, "sms", nowStr); err != nil {
		return errs.Wrap(err, "bootstrap sms consent")
	}
	if appt.PatientWhatsApp {
		if err := s.consents.Grant(ctx, appt.PatientID, "whatsapp", nowStr); err != nil {
			return errs.Wrap(err, "bootstrap whatsapp consent")
		}
	}
	return nil
}

func (s *Service) appendPipelineEvents(
	ctx context.Context,
	appt plan.Appointment,
	assessment plan.RiskAssessment,
	sequence sequencing.Sequence,
	sequenced bool,
	input policy.Input,
	decision policy.Decision,
) error {
	appends := []ports.EventAppend{
		{
			EventType:   plan.EventAppointmentIngested,
			AggregateID: appt.AppointmentID,
			Payload: map[string]any{
				"appointment_id":    appt.AppointmentID,
				"patient_id":        appt.PatientID,
				"clinic_id":         appt.ClinicID,
				"scheduled_at":      appt.ScheduledAt,
				"treatment_type":    appt.TreatmentType,
				"is_first_visit":    appt.IsFirstVisit,
				"previous_no_shows": appt.PreviousNoShows,
				"consent_given":     appt.ConsentGiven,
			},
			Actor: eventActor,
		},
		{
			EventType:   plan.EventRiskScored,
			AggregateID: appt.AppointmentID,
			Payload: map[string]any{
				"appointment_id": appt.AppointmentID,
				"score":          assessment.Score,
				"tier":           string(assessment.Tier),
				"scorer_version": assessment.ScorerVersion,
				"factors":        factorsPayload(assessment.Factors),
			},
			Actor: eventActor,
		},
	}

	if sequenced {
		actions := make([]any, 0, len(sequence.Actions))
		for _, a := range sequence.Actions {
			actions = append(actions, map[string]any{
				"action_type":  a.ActionType,
				"channel":      a.Channel,
				"template":     a.Template,
				"hours_before": a.HoursBefore,
			})
		}
		appends = append(appends,
			ports.EventAppend{
				EventType:   plan.EventActionsSequenced,
				AggregateID: appt.AppointmentID,
				Payload: map[string]any{
					"appointment_id": appt.AppointmentID,
					"actions":        actions,
					"expected_lift":  sequence.ExpectedLift,
				},
				Actor: eventActor,
			},
			ports.EventAppend{
				EventType:   plan.EventPolicyDecision,
				AggregateID: appt.AppointmentID,
				Payload:     policyDecisionPayload(appt.AppointmentID, input, decision),
				Actor:       eventActor,
			},
		)
	}

	for _, input := range appends {
		if _, _, err := s.events.Append(ctx, input); err != nil {
			return errs.Wrap(err, "append pipeline event")
		}
	}
	return nil
}

// policyDecisionPayload records both sides of the exchange: the exact
// request document sent to the evaluator and the verdict that came back.
// The audit trail must show what the evaluator was asked, not just what
// it answered.
func policyDecisionPayload(appointmentID string, input policy.Input, decision policy.Decision) map[string]any {
	payload := map[string]any{
		"appointment_id": appointmentID,
		"input_version":  policy.InputVersion,
		"input": map[string]any{
			"action":              input.Action,
			"role":                input.Role,
			"mode":                input.Mode,
			"patient_id":          input.PatientID,
			"clinic_id":           input.ClinicID,
			"messages_sent_today": input.MessagesSentToday,
			"daily_limit":         input.DailyLimit,
			"risk_score":          input.RiskScore,
			"environment":         input.Environment,
		},
		"result":         decision.Result,
		"reasons":        decision.Reasons,
		"policy_version": decision.PolicyVersion,
	}
	if decision.Detail != "" {
		payload["error"] = decision.Detail
	}
	return payload
}

func factorsPayload(factors map[string]float64) map[string]any {
	out := make(map[string]any, len(factors))
	for k, v := range factors {
		out[k] = v
	}
	return out
}
