package repository

import (
	"errors"

	"github.com/okian/ktrace/internal/domain/model"
)

// Sentinel kinds for store errors.
var (
	// ErrConflict is the domain conflict error so callers can match either.
	ErrConflict      = model.ErrConflict
	ErrInvalidCommit = errors.New("invalid commit")
	ErrUnknownDriver = errors.New("unknown store driver")
	ErrClosed        = errors.New("store closed")
)
