package service

import (
	"errors"
	"fmt"

	"github.com/okian/ktrace/internal/domain/model"
)

// Sentinel errors returned by the service.
var (
	ErrNotStarted = errors.New("service not started")
	// ErrBackpressure is returned when the async queue cannot take more work.
	ErrBackpressure = errors.New("trace queue full, retry later")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrValidation, fmt.Sprintf(format, args...))
}
