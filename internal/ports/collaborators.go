package ports

import (
	"context"

	"cacp/internal/domain/plan"
)

// SubmissionResult reports where a signed proposal landed in the approval
// repository.
type SubmissionResult struct {
	PRNumber int
	PRURL    string
	Branch   string
}

// Submitter delivers a signed plan manifest to the external approval
// repository. Submission must be idempotent per proposal identifier:
// resubmitting the same proposal never duplicates downstream side effects.
type Submitter interface {
	Submit(ctx context.Context, proposal plan.Proposal, manifest map[string]any) (SubmissionResult, error)
}

type SendRequest struct {
	Channel       string
	Target        string
	Template      string
	PatientID     string
	AppointmentID string
	// IdempotencyKey identifies the (proposal, action) pair for provider
	// level dedup.
	IdempotencyKey string
}

type SendResult struct {
	Provider          string
	ProviderMessageID string
}

// ActionAdapter is an opaque, possibly-failing, non-retried-by-us
// dependency. A returned error is recorded as an adapter-error outcome;
// the rail engine never retries.
type ActionAdapter interface {
	Execute(ctx context.Context, req SendRequest) (SendResult, error)
}

// PlanDispatcher hands an approved proposal to the execution side, either
// in process or over a queue.
type PlanDispatcher interface {
	Dispatch(ctx context.Context, proposalID string) error
}
