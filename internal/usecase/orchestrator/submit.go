package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cacp/internal/domain/plan"
	"cacp/internal/errs"
	"cacp/internal/ports"
)

// submitSigned delivers a signed proposal to the approval repository and,
// on success, moves it to submitted. The submitted event carries an
// idempotency key so a replayed submission never double-logs.
func (s *Service) submitSigned(ctx context.Context, proposal plan.Proposal) (ports.SubmissionResult, error) {
	if s.submitter == nil {
		return ports.SubmissionResult{}, errors.New("no submitter configured")
	}

	manifest := plan.ManifestPayload(proposal, s.environment)
	submission, err := s.submitter.Submit(ctx, proposal, manifest)
	if err != nil {
		return ports.SubmissionResult{}, errs.Wrap(err, "submit proposal")
	}

	nowStr := s.now().UTC().Format(time.RFC3339Nano)
	err = s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if _, _, appendErr := s.events.Append(txCtx, ports.EventAppend{
			EventType:   plan.EventProposalSubmitted,
			AggregateID: proposal.ProposalID,
			Payload: map[string]any{
				"plan_id":   proposal.ProposalID,
				"pr_number": submission.PRNumber,
				"pr_url":    submission.PRURL,
				"branch":    submission.Branch,
			},
			Actor:          eventActor,
			IdempotencyKey: "submitted:" + proposal.ProposalID,
		}); appendErr != nil {
			return appendErr
		}
		return s.proposals.Transition(txCtx, proposal.ProposalID, plan.StatusSigned, plan.StatusSubmitted, nowStr)
	})
	if err != nil {
		return ports.SubmissionResult{}, err
	}
	return submission, nil
}

// Resubmit re-delivers a proposal whose earlier submission failed or was
// lost. Submission is idempotent per proposal, so resubmitting one that
// already went out is harmless; a proposal already past submitted is
// rejected with an invalid-state error.
func (s *Service) Resubmit(ctx context.Context, proposalID string) (ports.SubmissionResult, error) {
	proposal, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return ports.SubmissionResult{}, err
	}

	switch proposal.Status {
	case plan.StatusSigned:
		return s.submitSigned(ctx, proposal)
	case plan.StatusSubmitted:
		if s.submitter == nil {
			return ports.SubmissionResult{}, errors.New("no submitter configured")
		}
		return s.submitter.Submit(ctx, proposal, plan.ManifestPayload(proposal, s.environment))
	default:
		return ports.SubmissionResult{}, fmt.Errorf("%w: proposal %s is %s, not signed",
			plan.ErrInvalidTransition, proposalID, proposal.Status)
	}
}
