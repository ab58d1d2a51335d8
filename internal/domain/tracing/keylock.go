package tracing

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/metrics"
)

// DefaultLockShards is the size of the lock table.
const DefaultLockShards = 256

// KeyLock serializes work per (student, course) without a global lock.
// Keys hash onto a fixed table of semaphores; two keys that share a slot
// are serialized together, which costs throughput but never correctness.
type KeyLock struct {
	slots []chan struct{}
}

// NewKeyLock creates a lock table with n slots.
func NewKeyLock(n int) *KeyLock {
	if n <= 0 {
		n = DefaultLockShards
	}
	l := &KeyLock{slots: make([]chan struct{}, n)}
	for i := range l.slots {
		l.slots[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *KeyLock) slot(k model.Key) chan struct{} {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.StudentID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.CourseID))
	return l.slots[h.Sum64()%uint64(len(l.slots))]
}

// Lock blocks until k is held or ctx is done. The returned func releases it.
func (l *KeyLock) Lock(ctx context.Context, k model.Key) (func(), error) {
	start := time.Now()
	s := l.slot(k)
	select {
	case s <- struct{}{}:
		metrics.RecordLockWait(float64(time.Since(start).Microseconds()) / 1000)
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
