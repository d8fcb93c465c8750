// Package orchestrator runs the ingestion pipeline: validate, score,
// sequence, check compliance, then either sign and submit a proposal or
// record its rejection. Nothing in this package executes an action; the
// only outward side effect is the submission for external approval.
package orchestrator

import (
	"errors"
	"time"

	"cacp/internal/compliance"
	"cacp/internal/domain/plan"
	"cacp/internal/policy"
	"cacp/internal/ports"
	"cacp/internal/scoring"
	"cacp/internal/sequencing"
	"cacp/internal/tenant"
)

// Deps are the collaborators the orchestrator is wired with. Evaluator and
// Submitter may be nil in degraded deployments; a nil evaluator means every
// policy decision comes back as an explicit denial, and a nil submitter
// leaves signed proposals waiting for resubmission.
type Deps struct {
	UoW       ports.UnitOfWork
	Events    ports.EventStore
	Proposals ports.ProposalRepository
	Counters  ports.SendCounterStore
	Consents  ports.ConsentStore
	Profiles  *tenant.Store
	Evaluator policy.Evaluator
	Submitter ports.Submitter

	// Now overrides the clock in tests.
	Now func() time.Time
}

type Service struct {
	uow       ports.UnitOfWork
	events    ports.EventStore
	proposals ports.ProposalRepository
	counters  ports.SendCounterStore
	consents  ports.ConsentStore
	profiles  *tenant.Store
	submitter ports.Submitter

	scorer    *scoring.Scorer
	sequencer *sequencing.Sequencer
	gateway   *policy.Gateway
	gate      *compliance.Gate

	signingKey  string
	environment string
	now         func() time.Time
}

func NewService(deps Deps, signingKey, environment string) (*Service, error) {
	if deps.UoW == nil || deps.Events == nil || deps.Proposals == nil || deps.Counters == nil {
		return nil, errors.New("orchestrator requires unit of work, event store, proposal repository and send counters")
	}
	if signingKey == "" {
		return nil, plan.ErrMissingSigningKey
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		uow:         deps.UoW,
		events:      deps.Events,
		proposals:   deps.Proposals,
		counters:    deps.Counters,
		consents:    deps.Consents,
		profiles:    deps.Profiles,
		submitter:   deps.Submitter,
		scorer:      scoring.NewScorerWithClock(now),
		sequencer:   sequencing.NewSequencer(),
		gateway:     policy.NewGateway(deps.Evaluator),
		gate:        compliance.NewGate(),
		signingKey:  signingKey,
		environment: environment,
		now:         now,
	}, nil
}

// ProcessResult reports how far one ingested appointment travelled through
// the pipeline.
type ProcessResult struct {
	Proposal   plan.Proposal
	Assessment plan.RiskAssessment
	Rejected   bool
	Reasons    []string
	Submitted  bool
	Submission ports.SubmissionResult
}
