package repository

import (
	"context"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/metrics"
)

const memoryName = "memory"

type shard struct {
	mu    sync.RWMutex
	pairs map[model.Key]map[string]model.MasteryRecord
}

// MemoryStore keeps mastery records in process memory, sharded by
// (student, course) so unrelated students never contend.
type MemoryStore struct {
	opts   options
	shards []*shard
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	s := &MemoryStore{opts: o, shards: make([]*shard, o.shards)}
	for i := range s.shards {
		s.shards[i] = &shard{pairs: make(map[model.Key]map[string]model.MasteryRecord)}
	}
	return s
}

// Name implements Store.
func (s *MemoryStore) Name() string { return memoryName }

func (s *MemoryStore) shardFor(k model.Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k.StudentID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.CourseID))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key model.RecordKey) (model.MasteryRecord, error) {
	start := time.Now()
	defer observe(memoryName, "get", start)
	if err := ctx.Err(); err != nil {
		return model.MasteryRecord{}, err
	}
	sh := s.shardFor(key.Pair())
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if rec, ok := sh.pairs[key.Pair()][key.ConceptID]; ok {
		return rec.Clone(), nil
	}
	return model.NewMasteryRecord(key, s.opts.prior), nil
}

// Commit implements Store.
func (s *MemoryStore) Commit(ctx context.Context, c model.Commit) error {
	start := time.Now()
	defer observe(memoryName, "commit", start)
	if err := validateCommit(c); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	pair := model.Key{StudentID: c.StudentID, CourseID: c.CourseID}
	sh := s.shardFor(pair)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	stored := sh.pairs[pair]
	for _, r := range c.Records {
		if stored[r.ConceptID].Version != r.Version {
			return ErrConflict
		}
	}
	if stored == nil {
		stored = make(map[string]model.MasteryRecord, len(c.Records))
		sh.pairs[pair] = stored
	}
	for _, r := range c.Records {
		r = r.Clone()
		r.Version++
		stored[r.ConceptID] = r
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, studentID, courseID string) ([]model.MasteryRecord, error) {
	start := time.Now()
	defer observe(memoryName, "list", start)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pair := model.Key{StudentID: studentID, CourseID: courseID}
	sh := s.shardFor(pair)
	sh.mu.RLock()
	out := make([]model.MasteryRecord, 0, len(sh.pairs[pair]))
	for _, r := range sh.pairs[pair] {
		out = append(out, r.Clone())
	}
	sh.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.MasteryRecord) int { return strings.Compare(a.ConceptID, b.ConceptID) })
	return out, nil
}

// Count implements Counter.
func (s *MemoryStore) Count(context.Context) (int, error) {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, m := range sh.pairs {
			n += len(m)
		}
		sh.mu.RUnlock()
	}
	return n, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func observe(store, op string, start time.Time) {
	metrics.RecordStoreLatency(store, op, float64(time.Since(start).Microseconds())/1000)
}
