package dedupe

// Option applies a configuration option to the in-flight Deduper.
type Option func(*inFlight)

// WithMaxSize bounds the number of tracked keys (<= 0 means unbounded).
func WithMaxSize(size int) Option {
	return func(d *inFlight) {
		d.maxSize = size
	}
}
