package orchestrator

import (
	"context"

	"cacp/internal/domain/plan"
	"cacp/internal/ports"
)

func (s *Service) GetProposal(ctx context.Context, proposalID string) (plan.Proposal, error) {
	return s.proposals.Get(ctx, proposalID)
}

func (s *Service) ListProposals(ctx context.Context, limit int) ([]plan.Proposal, error) {
	return s.proposals.List(ctx, limit)
}

// Timeline returns the event history for one aggregate, oldest first.
func (s *Service) Timeline(ctx context.Context, aggregateID string) ([]ports.Event, error) {
	return s.events.ListByAggregate(ctx, aggregateID)
}

func (s *Service) RecentEvents(ctx context.Context, limit int) ([]ports.Event, error) {
	return s.events.ListRecent(ctx, limit)
}
