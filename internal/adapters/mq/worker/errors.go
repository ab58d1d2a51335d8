package worker

import "errors"

// Sentinel errors returned by the pool.
var (
	ErrQueueFull  = errors.New("trace queue full")
	ErrPoolClosed = errors.New("worker pool closed")
	ErrNotStarted = errors.New("worker pool not started")
)
