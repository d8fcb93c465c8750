package ports

import (
	"context"

	"cacp/internal/domain/plan"
)

type ProposalRepository interface {
	Create(ctx context.Context, proposal plan.Proposal) error
	Get(ctx context.Context, proposalID string) (plan.Proposal, error)
	List(ctx context.Context, limit int) ([]plan.Proposal, error)
	// Transition moves a proposal between lifecycle statuses. The update is
	// guarded: it fails with plan.ErrInvalidTransition when the stored
	// status no longer matches from.
	Transition(ctx context.Context, proposalID string, from, to plan.Status, updatedAt string) error
}

type ConsentStore interface {
	HasConsent(ctx context.Context, patientID, channel string) (bool, error)
	Grant(ctx context.Context, patientID, channel, grantedAt string) error
	Revoke(ctx context.Context, patientID, channel, revokedAt string) error
}

type SendCounterStore interface {
	// CountSince returns how many sends were recorded for the key after
	// the window start.
	CountSince(ctx context.Context, patientID, channel, since string) (int, error)
	// ReserveSend is the atomic check-then-increment for the rate-limit
	// gate: it records a send only when the rolling-window count is below
	// limit, and reports whether the reservation was taken. The check and
	// the insert are one indivisible step.
	ReserveSend(ctx context.Context, patientID, channel string, limit int, since, at string) (bool, error)
}

type DedupStore interface {
	// ReserveAction wins exactly once per (proposal, action index); the
	// second caller gets false.
	ReserveAction(ctx context.Context, proposalID string, actionIndex int, at string) (bool, error)
}

type DeliveryStore interface {
	// ReserveDelivery wins exactly once per webhook delivery identifier.
	ReserveDelivery(ctx context.Context, deliveryID, receivedAt string) (bool, error)
}

// ExecutionRecord captures one attempted action: every rail outcome plus
// the adapter outcome. Immutable once written.
type ExecutionRecord struct {
	RecordID     string
	ProposalID   string
	ActionIndex  int
	RailOutcomes map[string]string
	Outcome      string
	Detail       string
	CreatedAt    string
}

type ExecutionStore interface {
	Record(ctx context.Context, record ExecutionRecord) error
	ListByProposal(ctx context.Context, proposalID string) ([]ExecutionRecord, error)
}
