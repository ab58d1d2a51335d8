package model

import "errors"

// Error taxonomy shared across the domain.
var (
	// ErrValidation marks malformed or missing caller input.
	ErrValidation = errors.New("validation error")
	// ErrTransientStorage marks a storage failure that survived bounded
	// retries. Callers may retry the whole request.
	ErrTransientStorage = errors.New("transient storage error")
	// ErrConflict is returned by a store when a record version changed
	// between read and commit.
	ErrConflict = errors.New("version conflict")
	// ErrUnknownOutcome marks evidence with an outcome the rules cannot
	// interpret.
	ErrUnknownOutcome = errors.New("unknown outcome")
	// ErrInvariantViolation marks an update rule that broke its contract.
	ErrInvariantViolation = errors.New("invariant violation")
)
