package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper tracks keys that are currently in flight so that the same unit of
// work is not queued twice.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool
	// Unrecord removes an ID so it can be submitted again, either because
	// enqueueing failed or because processing finished.
	Unrecord(ctx context.Context, id string)
	Size() int64
}

// inFlight implements Deduper with a FIFO-bounded map.
type inFlight struct {
	mu      sync.Mutex
	seen    map[string]uint64
	order   []string
	seq     uint64
	maxSize int
	size    atomic.Int64
}

// NewInFlight creates an in-memory Deduper.
func NewInFlight(opts ...Option) Deduper {
	d := &inFlight{
		maxSize: 50000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	return d
}

// SeenAndRecord implements Deduper.
func (d *inFlight) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seq++
	d.seen[id] = d.seq
	d.order = append(d.order, id)
	d.size.Add(1)
	return false
}

// Unrecord implements Deduper.
func (d *inFlight) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; !ok {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)
	// order is compacted lazily by evictOldest and compact.
	if len(d.order) > 2*len(d.seen)+64 {
		d.compact()
	}
}

// Size implements Deduper.
func (d *inFlight) Size() int64 { return d.size.Load() }

// evictOldest drops the oldest live key. Caller holds mu.
func (d *inFlight) evictOldest() {
	for len(d.order) > 0 {
		id := d.order[0]
		d.order = d.order[1:]
		if _, ok := d.seen[id]; ok {
			delete(d.seen, id)
			d.size.Add(-1)
			return
		}
	}
}

// compact removes unrecorded keys from order. Caller holds mu.
func (d *inFlight) compact() {
	live := d.order[:0]
	for _, id := range d.order {
		if _, ok := d.seen[id]; ok {
			live = append(live, id)
		}
	}
	d.order = live
}
