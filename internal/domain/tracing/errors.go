package tracing

import "errors"

// Sentinel errors for the tracing package.
var (
	ErrNoStore = errors.New("tracing: store is required")
	ErrNoRule  = errors.New("tracing: update rule is required")
)

// Skip reasons reported for evidence the engine refuses to apply.
const (
	SkipKeyMismatch   = "key_mismatch"
	SkipEmptyConcepts = "empty_concepts"
	SkipBadOutcome    = "unknown_outcome"
	SkipBadWeight     = "invalid_weight"
)

// Duplicate reasons, used as metric labels.
const (
	DuplicateByID      = "event_id"
	DuplicateByHorizon = "horizon"
)
