package shared

import "errors"

var (
	// ErrValidation indicates malformed or missing required input.
	ErrValidation = errors.New("invalid input")
	// ErrInvalidState occurs when an operation is attempted from a state that does not permit it.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrOverAllocation occurs when allocations exceed the approved quantity.
	ErrOverAllocation = errors.New("allocation exceeds approved quantity")
	// ErrInvalidAmount occurs when a payment amount is non-positive or exceeds the remaining balance.
	ErrInvalidAmount = errors.New("invalid payment amount")
	// ErrNotFound indicates a referenced record is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateOperation indicates an idempotency check detected prior completion.
	ErrDuplicateOperation = errors.New("operation already completed")
)
