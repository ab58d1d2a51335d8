package worker

import (
	"github.com/okian/ktrace/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithCompletion registers a callback run after every job.
func WithCompletion(fn CompletionFunc) Option {
	return func(w *InMemoryWorker) {
		w.onDone = fn
	}
}

type poolConfig struct {
	workers  int
	capacity int
	onDone   CompletionFunc
}

// PoolOption configures a Pool.
type PoolOption func(*poolConfig)

// WithWorkers sets the number of workers. Values below one select a multiple
// of the CPU count.
func WithWorkers(n int) PoolOption {
	return func(c *poolConfig) { c.workers = n }
}

// WithQueueCapacity sets the total number of jobs the pool may hold.
func WithQueueCapacity(n int) PoolOption {
	return func(c *poolConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithJobCompletion registers a callback run after every job.
func WithJobCompletion(fn CompletionFunc) PoolOption {
	return func(c *poolConfig) { c.onDone = fn }
}
