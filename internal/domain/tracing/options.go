package tracing

import (
	"time"

	"github.com/okian/ktrace/internal/domain/dedupe"
	"github.com/okian/ktrace/internal/domain/rule"
	"github.com/okian/ktrace/pkg/logger"
)

// Defaults for the engine.
const (
	DefaultCommitAttempts = 5
	DefaultBackoff        = 10 * time.Millisecond
	DefaultMaxBackoff     = 500 * time.Millisecond
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMaxStep sets the largest move a single event may cause.
func WithMaxStep(step float64) Option {
	return func(e *Engine) {
		if step > 0 && step <= 1 {
			e.maxStep = step
		}
	}
}

// WithAppliedWindow sets how many event IDs each record remembers verbatim.
func WithAppliedWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithCommitAttempts bounds the attempts per event before giving up.
func WithCommitAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial and maximum retry backoff.
func WithBackoff(initial, maxBackoff time.Duration) Option {
	return func(e *Engine) {
		if initial > 0 {
			e.backoff = initial
		}
		if maxBackoff >= e.backoff {
			e.maxBackoff = maxBackoff
		}
	}
}

// WithLockShards sets the size of the per-key lock table.
func WithLockShards(n int) Option {
	return func(e *Engine) {
		e.locks = NewKeyLock(n)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func defaults(e *Engine) {
	e.maxStep = rule.DefaultMaxStep
	e.window = dedupe.DefaultWindow
	e.maxAttempts = DefaultCommitAttempts
	e.backoff = DefaultBackoff
	e.maxBackoff = DefaultMaxBackoff
}
