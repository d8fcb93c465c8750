// Package rails executes approved proposals behind the safety gates.
// Every action passes consent, quiet hours, rate limit and dedup checks
// in that order before any adapter is touched; a blocked gate short
// circuits the rest and the block is recorded, never silently dropped.
package rails

import (
	"errors"
	"time"

	"cacp/internal/ports"
	"cacp/internal/tenant"
)

const (
	railConsent    = "consent"
	railQuietHours = "quiet_hours"
	railRateLimit  = "rate_limit"
	railDedup      = "dedup"

	railAllow = "ALLOW"
	railBlock = "BLOCK"

	OutcomeExecuted     = "executed"
	OutcomeBlocked      = "blocked"
	OutcomeAdapterError = "adapter_error"
	OutcomeInternalErr  = "internal_error"
)

type Deps struct {
	UoW        ports.UnitOfWork
	Events     ports.EventStore
	Proposals  ports.ProposalRepository
	Consents   ports.ConsentStore
	Counters   ports.SendCounterStore
	Dedup      ports.DedupStore
	Executions ports.ExecutionStore
	Profiles   *tenant.Store
	Adapter    ports.ActionAdapter

	Now func() time.Time
}

type Service struct {
	uow        ports.UnitOfWork
	events     ports.EventStore
	proposals  ports.ProposalRepository
	consents   ports.ConsentStore
	counters   ports.SendCounterStore
	dedup      ports.DedupStore
	executions ports.ExecutionStore
	profiles   *tenant.Store
	adapter    ports.ActionAdapter
	now        func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	if deps.UoW == nil || deps.Events == nil || deps.Proposals == nil ||
		deps.Consents == nil || deps.Counters == nil || deps.Dedup == nil ||
		deps.Executions == nil || deps.Adapter == nil {
		return nil, errors.New("rails requires all stores and an action adapter")
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		uow:        deps.UoW,
		events:     deps.Events,
		proposals:  deps.Proposals,
		consents:   deps.Consents,
		counters:   deps.Counters,
		dedup:      deps.Dedup,
		executions: deps.Executions,
		profiles:   deps.Profiles,
		adapter:    deps.Adapter,
		now:        now,
	}, nil
}
