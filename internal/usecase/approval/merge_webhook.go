package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/ports"
	"cacp/internal/signing"
)

const (
	eventActor = "approval-webhook"

	// Branch prefix used by the submitter; the proposal identifier is
	// recovered from the merged head branch.
	branchPrefix = "plan/"
)

// Result reports the disposition of one webhook delivery.
type Result struct {
	ProposalID string
	Approved   bool
	Duplicate  bool
	Ignored    bool
	Reasons    []string
}

type mergePayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Merged bool `json:"merged"`
		Number int  `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// HandleMergeEvent processes one pull request webhook delivery. The raw
// body is verified against the delivery signature before parsing; a bad
// signature is recorded and rejected with no further inspection of the
// payload. Deliveries are deduplicated by identifier, so provider retries
// are accepted quietly without approving or dispatching twice.
func (s *Service) HandleMergeEvent(ctx context.Context, deliveryID string, body []byte, signatureHeader string) (Result, error) {
	ctx = logging.WithAttrs(ctx, slog.String("delivery_id", deliveryID))
	nowStr := s.now().UTC().Format(time.RFC3339Nano)

	if !signing.VerifyBody(s.webhookSecret, body, signatureHeader) {
		s.recordRejection(ctx, deliveryID, "", plan.ReasonSignatureInvalid)
		return Result{Reasons: []string{plan.ReasonSignatureInvalid}},
			fmt.Errorf("%w: delivery %s", plan.ErrSignatureInvalid, deliveryID)
	}

	var payload mergePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.recordRejection(ctx, deliveryID, "", plan.ReasonInvalidState)
		return Result{Reasons: []string{plan.ReasonInvalidState}},
			errs.Wrap(plan.ErrInvalidPayload, "parse webhook body")
	}

	// Only a merged close approves anything. Everything else (opened,
	// labeled, closed-without-merge) is acknowledged and skipped.
	if payload.Action != "closed" || !payload.PullRequest.Merged {
		return Result{Ignored: true}, nil
	}

	proposalID := strings.TrimPrefix(payload.PullRequest.Head.Ref, branchPrefix)
	if proposalID == payload.PullRequest.Head.Ref || proposalID == "" {
		return Result{Ignored: true}, nil
	}
	ctx = logging.WithAttrs(ctx, slog.String("proposal_id", proposalID))

	result := Result{ProposalID: proposalID}
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		won, reserveErr := s.deliveries.ReserveDelivery(txCtx, deliveryID, nowStr)
		if reserveErr != nil {
			return reserveErr
		}
		if !won {
			result.Duplicate = true
			_, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
				EventType:   plan.EventWebhookDuplicate,
				AggregateID: proposalID,
				Payload: map[string]any{
					"delivery_id": deliveryID,
					"plan_id":     proposalID,
				},
				Actor: eventActor,
			})
			return appendErr
		}

		proposal, getErr := s.proposals.Get(txCtx, proposalID)
		if getErr != nil {
			if !errors.Is(getErr, plan.ErrProposalNotFound) {
				return getErr
			}
			result.Reasons = append(result.Reasons, plan.ReasonUnknownProposal)
			return s.appendRejection(txCtx, deliveryID, proposalID, plan.ReasonUnknownProposal)
		}

		if !plan.CanTransition(proposal.Status, plan.StatusApproved) {
			result.Reasons = append(result.Reasons, plan.ReasonInvalidState)
			return s.appendRejection(txCtx, deliveryID, proposalID, plan.ReasonInvalidState)
		}

		if _, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
			EventType:   plan.EventProposalApproved,
			AggregateID: proposalID,
			Payload: map[string]any{
				"plan_id":     proposalID,
				"delivery_id": deliveryID,
				"pr_number":   payload.PullRequest.Number,
				"approved_by": payload.Sender.Login,
			},
			Actor:          eventActor,
			IdempotencyKey: "approved:" + proposalID,
		}); appendErr != nil {
			return appendErr
		}
		if transErr := s.proposals.Transition(txCtx, proposalID, proposal.Status, plan.StatusApproved, nowStr); transErr != nil {
			return transErr
		}
		result.Approved = true
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch {
	case result.Duplicate:
		logging.Warn(ctx, "duplicate webhook delivery ignored")
		return result, nil
	case len(result.Reasons) > 0:
		logging.Warn(ctx, "merge webhook rejected", slog.Any("reasons", result.Reasons))
		if result.Reasons[0] == plan.ReasonUnknownProposal {
			return result, fmt.Errorf("%w: %s", plan.ErrProposalNotFound, proposalID)
		}
		return result, fmt.Errorf("%w: proposal %s cannot be approved", plan.ErrInvalidTransition, proposalID)
	}

	logging.Info(ctx, "proposal approved")
	if s.dispatcher != nil {
		if dispatchErr := s.dispatcher.Dispatch(ctx, proposalID); dispatchErr != nil {
			// The proposal stays approved; the worker can pick it up on
			// its next sweep.
			logging.Warn(ctx, "dispatch failed", slog.Any("err", errs.Loggable(dispatchErr)))
		}
	}
	return result, nil
}

func (s *Service) appendRejection(ctx context.Context, deliveryID, proposalID, reason string) error {
	_, _, err := s.events.Append(ctx, ports.EventAppend{
		EventType:   plan.EventWebhookRejected,
		AggregateID: rejectionAggregate(proposalID, deliveryID),
		Payload: map[string]any{
			"delivery_id": deliveryID,
			"plan_id":     proposalID,
			"reason":      reason,
		},
		Actor: eventActor,
	})
	return err
}

// recordRejection appends outside any caller transaction; rejections of
// unverified or unparseable deliveries must be durable even though the
// request itself fails.
func (s *Service) recordRejection(ctx context.Context, deliveryID, proposalID, reason string) {
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		return s.appendRejection(txCtx, deliveryID, proposalID, reason)
	})
	if err != nil {
		logging.Error(ctx, "record webhook rejection", slog.Any("err", errs.Loggable(err)))
	}
}

func rejectionAggregate(proposalID, deliveryID string) string {
	if proposalID != "" {
		return proposalID
	}
	return "delivery:" + deliveryID
}
