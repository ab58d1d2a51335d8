package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/ktrace/pkg/logger"
	"github.com/okian/ktrace/pkg/metrics"
)

// Source loads a complete registry snapshot.
type Source interface {
	Name() string
	Load(ctx context.Context) (*Snapshot, error)
}

// Registry publishes concept registry snapshots.
type Registry struct {
	current atomic.Pointer[Snapshot]
	source  Source
	refresh time.Duration
	log     logger.Logger

	reloadMu sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithSource sets the source used by Reload.
func WithSource(src Source) Option {
	return func(r *Registry) { r.source = src }
}

// WithRefreshInterval enables periodic reloads (0 disables them).
func WithRefreshInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.refresh = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithSnapshot installs an initial snapshot.
func WithSnapshot(s *Snapshot) Option {
	return func(r *Registry) {
		if s != nil {
			r.current.Store(s)
		}
	}
}

// New creates a registry holding an empty snapshot until loaded.
func New(opts ...Option) *Registry {
	r := &Registry{
		log:      logger.Get().Named("registry"),
		stopChan: make(chan struct{}),
	}
	r.current.Store(Empty())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// Resolve looks an item up in the current snapshot.
func (r *Registry) Resolve(itemID string, kind ItemKind) []string {
	return r.Snapshot().Resolve(itemID, kind)
}

// Importance looks a concept's importance up in the current snapshot.
func (r *Registry) Importance(conceptID string) float64 {
	return r.Snapshot().Importance(conceptID)
}

// Replace atomically publishes s.
func (r *Registry) Replace(s *Snapshot) {
	if s == nil {
		s = Empty()
	}
	r.current.Store(s)
	metrics.UpdateRegistrySize(s.Items(), s.Concepts())
}

// Reload loads a snapshot from the source and publishes it. On failure the
// previous snapshot stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	const op = "registry.reload"
	if r.source == nil {
		return ErrNoSource
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	start := time.Now()
	s, err := r.source.Load(ctx)
	if err != nil {
		metrics.RecordRegistryReload("error")
		r.log.Error(ctx, "registry reload failed, keeping previous snapshot",
			logger.String("op", op),
			logger.String("source", r.source.Name()),
			logger.Error(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	r.Replace(s)
	metrics.RecordRegistryReload("ok")
	r.log.Info(ctx, "registry reloaded",
		logger.String("source", r.source.Name()),
		logger.Int("items", s.Items()),
		logger.Int("concepts", s.Concepts()),
		logger.Duration("took", time.Since(start)))
	return nil
}

// Start performs an initial load and, when a refresh interval is set,
// reloads periodically until Close or ctx cancellation.
func (r *Registry) Start(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	if err := r.Reload(ctx); err != nil {
		return err
	}
	if r.refresh <= 0 {
		return nil
	}
	r.wg.Add(1)
	go r.refreshLoop(ctx)
	return nil
}

func (r *Registry) refreshLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			// failures are logged by Reload
			_ = r.Reload(ctx)
		}
	}
}

// Close stops the refresher.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}
