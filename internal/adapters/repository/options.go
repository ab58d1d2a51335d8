package repository

import "github.com/okian/ktrace/internal/domain/model"

const (
	defaultShards    = 256
	defaultKeyPrefix = "ktrace"
)

type options struct {
	prior       float64
	shards      int
	keyPrefix   string
	logEvidence bool
}

func defaultOptions() options {
	return options{
		prior:       model.DefaultPrior,
		shards:      defaultShards,
		keyPrefix:   defaultKeyPrefix,
		logEvidence: true,
	}
}

// Option applies a configuration option to a store.
type Option func(*options)

// WithPrior sets the probability of records that were never stored.
func WithPrior(p float64) Option {
	return func(o *options) {
		if p >= 0 && p <= 1 {
			o.prior = p
		}
	}
}

// WithShards sets the number of lock shards of the memory store.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.keyPrefix = prefix
		}
	}
}

// WithEvidenceLog toggles the non-authoritative evidence audit log of the
// gorm store.
func WithEvidenceLog(enabled bool) Option {
	return func(o *options) { o.logEvidence = enabled }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
