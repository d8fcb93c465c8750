// Package approval turns verified merge webhooks into proposal approvals.
// Verification runs on the raw delivery bytes before any parsing, every
// delivery identifier wins at most once, and a proposal is dispatched for
// execution exactly once.
package approval

import (
	"errors"
	"time"

	"cacp/internal/ports"
)

type Service struct {
	uow        ports.UnitOfWork
	events     ports.EventStore
	proposals  ports.ProposalRepository
	deliveries ports.DeliveryStore
	dispatcher ports.PlanDispatcher

	webhookSecret string
	now           func() time.Time
}

type Deps struct {
	UoW        ports.UnitOfWork
	Events     ports.EventStore
	Proposals  ports.ProposalRepository
	Deliveries ports.DeliveryStore
	Dispatcher ports.PlanDispatcher

	Now func() time.Time
}

func NewService(deps Deps, webhookSecret string) (*Service, error) {
	if deps.UoW == nil || deps.Events == nil || deps.Proposals == nil || deps.Deliveries == nil {
		return nil, errors.New("approval requires unit of work, event store, proposal repository and delivery store")
	}
	if webhookSecret == "" {
		return nil, errors.New("webhook secret is required")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		uow:           deps.UoW,
		events:        deps.Events,
		proposals:     deps.Proposals,
		deliveries:    deps.Deliveries,
		dispatcher:    deps.Dispatcher,
		webhookSecret: webhookSecret,
		now:           now,
	}, nil
}
