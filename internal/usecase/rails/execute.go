package rails

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/ports"
	"cacp/internal/tenant"
)

const eventActor = "rails-worker"

// ActionOutcome reports what happened to one action of a proposal.
type ActionOutcome struct {
	Index   int
	Action  plan.Action
	Outcome string
	Reason  string
	Rails   map[string]string
}

type ExecutionResult struct {
	ProposalID string
	Outcomes   []ActionOutcome
	Executed   int
	Blocked    int
	Failed     int
}

// ExecuteProposal runs every action of an approved proposal through the
// gates and, for the ones that pass, through the action adapter. Gate
// reservations and their events commit before the adapter is invoked, so a
// crash between reservation and send can only under-deliver, never
// double-send. Adapter failures are recorded and never retried here.
func (s *Service) ExecuteProposal(ctx context.Context, proposalID string) (ExecutionResult, error) {
	ctx = logging.WithAttrs(ctx, slog.String("proposal_id", proposalID))

	proposal, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return ExecutionResult{}, err
	}
	if proposal.Status != plan.StatusApproved {
		return ExecutionResult{}, fmt.Errorf("%w: proposal %s is %s, not approved",
			plan.ErrInvalidTransition, proposalID, proposal.Status)
	}

	profile := s.profiles.Get(proposal.ClinicID)
	result := ExecutionResult{ProposalID: proposalID}

	for i, action := range proposal.Actions {
		outcome := s.executeAction(ctx, proposal, i, action, profile)
		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Outcome {
		case OutcomeExecuted:
			result.Executed++
		case OutcomeBlocked:
			result.Blocked++
		case OutcomeAdapterError, OutcomeInternalErr:
			result.Failed++
		}
	}

	nowStr := s.now().UTC().Format(time.RFC3339Nano)
	err = s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
			EventType:   plan.EventProposalExecuted,
			AggregateID: proposalID,
			Payload: map[string]any{
				"plan_id":  proposalID,
				"executed": result.Executed,
				"blocked":  result.Blocked,
				"failed":   result.Failed,
			},
			Actor:          eventActor,
			IdempotencyKey: "executed:" + proposalID,
		}); appendErr != nil {
			return appendErr
		}
		return s.proposals.Transition(txCtx, proposalID, plan.StatusApproved, plan.StatusExecuted, nowStr)
	})
	if err != nil {
		return result, err
	}

	logging.Info(ctx, "proposal executed",
		slog.Int("executed", result.Executed),
		slog.Int("blocked", result.Blocked),
		slog.Int("failed", result.Failed))
	return result, nil
}

func (s *Service) executeAction(
	ctx context.Context,
	proposal plan.Proposal,
	index int,
	action plan.Action,
	profile tenant.Profile,
) ActionOutcome {
	outcome := ActionOutcome{Index: index, Action: action, Rails: map[string]string{}}
	now := s.now().UTC()

	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		reason, gateErr := s.runGates(txCtx, proposal, index, action, profile, now, outcome.Rails)
		if gateErr != nil {
			return gateErr
		}

		if reason != "" {
			outcome.Outcome = OutcomeBlocked
			outcome.Reason = reason
			if _, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
				EventType:   plan.EventActionBlocked,
				AggregateID: proposal.ProposalID,
				Payload: map[string]any{
					"plan_id":      proposal.ProposalID,
					"action_index": index,
					"action_type":  action.ActionType,
					"reason":       reason,
					"rails":        railsPayload(outcome.Rails),
				},
				Actor: eventActor,
			}); appendErr != nil {
				return appendErr
			}
			return s.executions.Record(txCtx, ports.ExecutionRecord{
				ProposalID:   proposal.ProposalID,
				ActionIndex:  index,
				RailOutcomes: outcome.Rails,
				Outcome:      OutcomeBlocked,
				Detail:       reason,
			})
		}

		_, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
			EventType:   plan.EventActionGatesPassed,
			AggregateID: proposal.ProposalID,
			Payload: map[string]any{
				"plan_id":      proposal.ProposalID,
				"action_index": index,
				"action_type":  action.ActionType,
				"channel":      action.Channel,
			},
			Actor: eventActor,
		})
		return appendErr
	})
	if err != nil {
		// No adapter ran here; a failed gate transaction is an
		// infrastructure fault, not a delivery one.
		outcome.Outcome = OutcomeInternalErr
		outcome.Reason = plan.ReasonInternalError
		logging.Error(ctx, "action gate transaction failed",
			slog.Int("action_index", index),
			slog.Any("err", errs.Loggable(err)))
		return outcome
	}
	if outcome.Outcome == OutcomeBlocked {
		logging.Warn(ctx, "action blocked",
			slog.Int("action_index", index),
			slog.String("reason", outcome.Reason))
		return outcome
	}

	sendResult, sendErr := s.adapter.Execute(ctx, ports.SendRequest{
		Channel:        action.Channel,
		Target:         proposal.PatientID,
		Template:       action.Template,
		PatientID:      proposal.PatientID,
		AppointmentID:  proposal.AppointmentID,
		IdempotencyKey: fmt.Sprintf("%s:%d", proposal.ProposalID, index),
	})

	recordErr := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if sendErr != nil {
			outcome.Outcome = OutcomeAdapterError
			outcome.Reason = plan.ReasonAdapterError
			if _, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
				EventType:   plan.EventActionFailed,
				AggregateID: proposal.ProposalID,
				Payload: map[string]any{
					"plan_id":      proposal.ProposalID,
					"action_index": index,
					"action_type":  action.ActionType,
					"reason":       plan.ReasonAdapterError,
				},
				Actor: eventActor,
			}); appendErr != nil {
				return appendErr
			}
			return s.executions.Record(txCtx, ports.ExecutionRecord{
				ProposalID:   proposal.ProposalID,
				ActionIndex:  index,
				RailOutcomes: outcome.Rails,
				Outcome:      OutcomeAdapterError,
				Detail:       sendErr.Error(),
			})
		}

		outcome.Outcome = OutcomeExecuted
		if _, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
			EventType:   plan.EventActionExecuted,
			AggregateID: proposal.ProposalID,
			Payload: map[string]any{
				"plan_id":             proposal.ProposalID,
				"action_index":        index,
				"action_type":         action.ActionType,
				"channel":             action.Channel,
				"provider":            sendResult.Provider,
				"provider_message_id": sendResult.ProviderMessageID,
			},
			Actor: eventActor,
		}); appendErr != nil {
			return appendErr
		}
		return s.executions.Record(txCtx, ports.ExecutionRecord{
			ProposalID:   proposal.ProposalID,
			ActionIndex:  index,
			RailOutcomes: outcome.Rails,
			Outcome:      OutcomeExecuted,
			Detail:       sendResult.ProviderMessageID,
		})
	})
	if recordErr != nil {
		logging.Error(ctx, "record action outcome",
			slog.Int("action_index", index),
			slog.Any("err", errs.Loggable(recordErr)))
	}

	return outcome
}

// runGates applies the gates in their fixed order and returns the blocking
// reason, or empty when every gate allowed. Later gates are not evaluated
// once one blocks; rails only records the gates that actually ran.
func (s *Service) runGates(
	ctx context.Context,
	proposal plan.Proposal,
	index int,
	action plan.Action,
	profile tenant.Profile,
	now time.Time,
	rails map[string]string,
) (string, error) {
	hasConsent, err := s.consents.HasConsent(ctx, proposal.PatientID, action.Channel)
	if err != nil {
		return "", errs.Wrap(err, "check consent")
	}
	if !hasConsent {
		rails[railConsent] = railBlock
		return plan.ReasonNoConsent, nil
	}
	rails[railConsent] = railAllow

	if profile.InQuietHours(now) {
		rails[railQuietHours] = railBlock
		return plan.ReasonQuietHours, nil
	}
	rails[railQuietHours] = railAllow

	windowStart := now.Add(-24 * time.Hour).Format(time.RFC3339Nano)
	reserved, err := s.counters.ReserveSend(ctx, proposal.PatientID, action.Channel,
		profile.Messaging.MaxMessagesPerPatientPerDay, windowStart, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", errs.Wrap(err, "reserve send")
	}
	if !reserved {
		rails[railRateLimit] = railBlock
		return plan.ReasonRateLimitExceeded, nil
	}
	rails[railRateLimit] = railAllow

	won, err := s.dedup.ReserveAction(ctx, proposal.ProposalID, index, now.Format(time.RFC3339Nano))
	if err != nil {
		return "", errs.Wrap(err, "reserve action")
	}
	if !won {
		rails[railDedup] = railBlock
		return plan.ReasonDuplicateAction, nil
	}
	rails[railDedup] = railAllow

	return "", nil
}

func railsPayload(rails map[string]string) map[string]any {
	out := make(map[string]any, len(rails))
	for k, v := range rails {
		out[k] = v
	}
	return out
}
