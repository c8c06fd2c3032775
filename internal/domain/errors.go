package domain

import "errors"

// Failure taxonomy. Every rejection produced by the engines wraps exactly one
// of these sentinels so callers can branch with errors.Is while the Error()
// string carries the operator-facing reason.
var (
	// ErrAccessDenied means the caller lacks a required role. Not retryable
	// without a role change.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidState means the operation was attempted outside its valid
	// lifecycle state (already resolved, nonce reused, and so on).
	ErrInvalidState = errors.New("invalid state")

	// ErrOutOfBounds means an amount is below a minimum, above a maximum, or
	// exceeds a balance or allowance. Retryable with different parameters.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrMalformedInput means structurally invalid input: mismatched array
	// lengths, bad partitions, unknown names.
	ErrMalformedInput = errors.New("malformed input")

	// ErrTooEarly means a temporal precondition has not elapsed yet.
	ErrTooEarly = errors.New("too early")

	// ErrExpired means a deadline has passed; the request must be re-signed.
	ErrExpired = errors.New("expired")

	// ErrNotFound is returned by stores and registries for missing entities.
	ErrNotFound = errors.New("not found")

	// ErrLockHeld is returned when a distributed lock is already held.
	ErrLockHeld = errors.New("lock already held")
)

// RejectError pairs a taxonomy sentinel with the exact reason string surfaced
// to callers. Error() returns only the reason so reason strings stay stable.
type RejectError struct {
	Kind   error
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

func (e *RejectError) Unwrap() error { return e.Kind }

// Reject builds a RejectError for the given taxonomy sentinel.
func Reject(kind error, reason string) error {
	return &RejectError{Kind: kind, Reason: reason}
}
