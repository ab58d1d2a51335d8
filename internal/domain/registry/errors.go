package registry

import "errors"

// Sentinel errors for the registry package.
var (
	ErrNoSource      = errors.New("registry: no source configured")
	ErrInvalidSource = errors.New("registry: invalid source data")
)
