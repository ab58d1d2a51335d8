package rule

import "errors"

// Sentinel errors for the rule package.
var (
	ErrInvalidParameters = errors.New("rule: parameters out of bounds")
	ErrUnknownRule       = errors.New("rule: unknown rule name")
)
