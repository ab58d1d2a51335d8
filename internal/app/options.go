package service

import (
	"github.com/okian/ktrace/internal/adapters/feedback"
	"github.com/okian/ktrace/internal/adapters/repository"
	"github.com/okian/ktrace/internal/domain/normalize"
	"github.com/okian/ktrace/internal/domain/registry"
	"github.com/okian/ktrace/internal/domain/rule"
	"github.com/okian/ktrace/internal/domain/summary"
	"github.com/okian/ktrace/internal/domain/tracing"
	"github.com/okian/ktrace/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the mastery store. The service closes it on Stop.
func WithStore(s repository.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
		}
	}
}

// WithRegistry sets the concept registry. The service starts and closes it.
func WithRegistry(r *registry.Registry) Option {
	return func(svc *Service) {
		if r != nil {
			svc.registry = r
		}
	}
}

// WithRule sets the update rule.
func WithRule(r rule.Rule) Option {
	return func(svc *Service) {
		if r != nil {
			svc.rule = r
		}
	}
}

// WithFeedback sets the feedback generator.
func WithFeedback(g feedback.Generator) Option {
	return func(svc *Service) {
		if g != nil {
			svc.feedback = g
		}
	}
}

// WithThresholds sets the mastered and struggling thresholds.
func WithThresholds(t summary.Thresholds) Option {
	return func(svc *Service) {
		svc.thresholds = t
	}
}

// WithWeighting selects how overall proficiency weighs concepts.
func WithWeighting(w summary.Weighting) Option {
	return func(svc *Service) {
		if w != "" {
			svc.weighting = w
		}
	}
}

// WithNormalizeOptions sets evidence weights.
func WithNormalizeOptions(o normalize.Options) Option {
	return func(svc *Service) {
		svc.normalize = o
	}
}

// WithEngineOptions passes options to the tracing engine.
func WithEngineOptions(opts ...tracing.Option) Option {
	return func(svc *Service) {
		svc.engineOpts = append(svc.engineOpts, opts...)
	}
}

// WithWorkerCount sets the number of async trace workers.
func WithWorkerCount(count int) Option {
	return func(svc *Service) {
		if count > 0 {
			svc.workerCount = count
		}
	}
}

// WithQueueSize sets the total capacity of the async trace queue.
func WithQueueSize(size int) Option {
	return func(svc *Service) {
		if size > 0 {
			svc.queueSize = size
		}
	}
}

// WithDedupeSize bounds the set of attempts queued but not yet traced.
func WithDedupeSize(size int) Option {
	return func(svc *Service) {
		if size > 0 {
			svc.dedupeSize = size
		}
	}
}

// WithBatchConcurrency limits how many keys a batch traces in parallel.
func WithBatchConcurrency(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.batchConcurrency = n
		}
	}
}

// WithMaxBatchSize caps the attempts accepted by one batch.
func WithMaxBatchSize(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.maxBatchSize = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}
