package plan

import "errors"

// Stable reason codes surfaced to operators and recorded in events.
// Raw internal error text never leaves the process in their place.
const (
	ReasonOPAUnavailable    = "OPA_UNAVAILABLE"
	ReasonNoConsent         = "NO_CONSENT"
	ReasonQuietHours        = "QUIET_HOURS"
	ReasonRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ReasonDuplicateAction   = "DUPLICATE_ACTION"
	ReasonSignatureInvalid  = "SIGNATURE_INVALID"
	ReasonUnknownProposal   = "UNKNOWN_PROPOSAL"
	ReasonInvalidState      = "INVALID_STATE"
	ReasonNoEligibleAction  = "NO_ELIGIBLE_ACTION"
	ReasonAdapterError      = "ADAPTER_ERROR"
	ReasonInternalError     = "INTERNAL_ERROR"
	ReasonPolicyDenied      = "POLICY_DENIED"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidPayload       = errors.New("payload is not serializable")
	ErrPolicyViolation      = errors.New("policy violation")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrDuplicateAction      = errors.New("duplicate action")
	ErrEvaluatorUnavailable = errors.New("policy evaluator unavailable")
	ErrNoEligibleAction     = errors.New("no eligible action")
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrInvalidTransition    = errors.New("invalid proposal status transition")
	ErrMissingSigningKey    = errors.New("signing key is required")
	ErrInternal             = errors.New("internal error")
)
