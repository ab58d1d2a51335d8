// Package service wires the knowledge tracing pipeline and implements the
// operations the HTTP API exposes.
//
// A trace request flows registry snapshot -> normalizer -> engine -> store
// and is answered with a summary read back from the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/ktrace/internal/adapters/feedback"
	"github.com/okian/ktrace/internal/adapters/mq/queue"
	"github.com/okian/ktrace/internal/adapters/mq/worker"
	"github.com/okian/ktrace/internal/adapters/repository"
	"github.com/okian/ktrace/internal/domain/dedupe"
	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/internal/domain/normalize"
	"github.com/okian/ktrace/internal/domain/registry"
	"github.com/okian/ktrace/internal/domain/rule"
	"github.com/okian/ktrace/internal/domain/summary"
	"github.com/okian/ktrace/internal/domain/tracing"
	"github.com/okian/ktrace/pkg/logger"
	"github.com/okian/ktrace/pkg/metrics"
)

// Trace modes used as metric labels.
const (
	ModeSync     = "sync"
	ModeAsync    = "async"
	ModeBatch    = "batch"
	ModeFeedback = "feedback"
)

// Report counts what happened to the records of one attempt.
type Report struct {
	Applied           int                 `json:"applied"`
	Skipped           int                 `json:"skipped"`
	Duplicates        int                 `json:"duplicates"`
	HorizonDuplicates int                 `json:"horizon_duplicates"`
	Dropped           int                 `json:"dropped"`
	Warnings          []normalize.Warning `json:"warnings"`
}

// Outcome is the result of tracing one attempt.
type Outcome struct {
	AttemptID string
	State     model.KnowledgeStateSnapshot
	Report    Report
}

// BatchResult is the outcome of one attempt of a batch. Exactly one of
// Outcome and Err is set.
type BatchResult struct {
	AttemptID string
	Outcome   *Outcome
	Err       error
}

// Service implements the API dependencies for knowledge tracing.
type Service struct {
	mu sync.RWMutex

	// Core components
	store    repository.Store
	registry *registry.Registry
	rule     rule.Rule
	engine   *tracing.Engine
	feedback feedback.Generator
	pool     *worker.Pool
	inflight dedupe.Deduper

	// Configuration
	thresholds       summary.Thresholds
	weighting        summary.Weighting
	normalize        normalize.Options
	engineOpts       []tracing.Option
	workerCount      int
	queueSize        int
	dedupeSize       int
	batchConcurrency int
	maxBatchSize     int

	started bool
	logger  logger.Logger
}

// New constructs a Service. Components not supplied through options get
// in-memory defaults when the service starts.
func New(opts ...Option) *Service {
	s := &Service{
		thresholds:       summary.DefaultThresholds(),
		weighting:        summary.WeightEvidence,
		normalize:        normalize.DefaultOptions(),
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        10_000,
		dedupeSize:       50_000,
		batchConcurrency: 8,
		maxBatchSize:     100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the configuration, loads the registry and starts the
// async workers.
func (s *Service) Start(ctx context.Context) error {
	const op = "service.start"
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if err := s.thresholds.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.rule == nil {
		r, err := rule.New(rule.Config{Name: rule.NameBKT})
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.rule = r
	}
	if s.feedback == nil {
		s.feedback = feedback.NewTemplate()
	}

	engine, err := tracing.New(s.store, s.rule, s.engineOpts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.engine = engine

	if err := s.registry.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.inflight = dedupe.NewInFlight(dedupe.WithMaxSize(s.dedupeSize))
	s.pool = worker.NewPool(worker.TracerFunc(s.traceQueued),
		worker.WithWorkers(s.workerCount),
		worker.WithQueueCapacity(s.queueSize),
		worker.WithJobCompletion(s.jobDone),
	)
	// Workers outlive the start context so Stop can drain them.
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "knowledge tracing service started",
		logger.String("store", s.store.Name()),
		logger.String("rule", s.engine.RuleName()),
		logger.String("registry", s.registry.Snapshot().Source()),
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
	)
	return nil
}

// Stop drains queued work and releases the store and registry.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping knowledge tracing service")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.registry.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "knowledge tracing service stopped")
	return errors.Join(errs...)
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// Trace applies the evidence in a and returns the resulting knowledge state.
func (s *Service) Trace(ctx context.Context, a model.Attempt) (Outcome, error) { //nolint:gocritic // hugeParam: attempts are request values
	if err := s.running(); err != nil {
		return Outcome{}, err
	}
	return s.trace(ctx, a, ModeSync)
}

// traceQueued runs jobs taken off the async queue. It does not check the
// started flag so that Stop can drain the queue.
func (s *Service) traceQueued(ctx context.Context, a model.Attempt) error { //nolint:gocritic // hugeParam: attempts are request values
	_, err := s.trace(ctx, a, ModeAsync)
	return err
}

// GenerateFeedback traces a and renders feedback text for the new state.
func (s *Service) GenerateFeedback(ctx context.Context, a model.Attempt) (Outcome, string, error) { //nolint:gocritic // hugeParam: attempts are request values
	if err := s.running(); err != nil {
		return Outcome{}, "", err
	}
	out, err := s.trace(ctx, a, ModeFeedback)
	if err != nil {
		return Outcome{}, "", err
	}
	text, err := s.feedback.Generate(ctx, feedback.RequestFor(&a, &out.State))
	if err != nil {
		return Outcome{}, "", fmt.Errorf("generate feedback: %w", err)
	}
	return out, text, nil
}

func validateAttempt(a *model.Attempt) error {
	var missing []string
	if a.AttemptID == "" {
		missing = append(missing, "attemptid")
	}
	if a.StudentID == "" {
		missing = append(missing, "userid")
	}
	if a.CourseID == "" {
		missing = append(missing, "courseid")
	}
	if len(missing) > 0 {
		return invalid("missing required fields: %v", missing)
	}
	return nil
}

func (s *Service) trace(ctx context.Context, a model.Attempt, mode string) (out Outcome, err error) { //nolint:gocritic // hugeParam: attempts are request values
	defer func() { metrics.RecordTraceRequest(mode, status(err)) }()

	if err = validateAttempt(&a); err != nil {
		return Outcome{}, err
	}

	norm := normalize.Normalize(a, s.registry.Snapshot(), s.normalize)
	for _, w := range norm.Warnings {
		if w.Dropped() {
			metrics.RecordEvidenceDropped(w.Reason)
		}
	}
	if len(norm.Warnings) > 0 {
		s.logger.Debug(ctx, "data quality warnings",
			logger.String("attempt_id", a.AttemptID),
			logger.Int("warnings", len(norm.Warnings)),
			logger.Int("dropped", norm.Dropped()),
		)
	}

	res, err := s.engine.Apply(ctx, a.StudentID, a.CourseID, norm.Evidence)
	if err != nil {
		s.logger.Error(ctx, "trace failed",
			logger.String("mode", mode),
			logger.String("attempt_id", a.AttemptID),
			logger.Int("applied", res.Applied),
			logger.Error(err),
		)
		return Outcome{}, fmt.Errorf("trace attempt %s: %w", a.AttemptID, err)
	}

	state, err := s.knowledgeState(ctx, a.StudentID, a.CourseID)
	if err != nil {
		return Outcome{}, err
	}
	warnings := norm.Warnings
	if warnings == nil {
		warnings = []normalize.Warning{}
	}
	return Outcome{
		AttemptID: a.AttemptID,
		State:     state,
		Report: Report{
			Applied:           res.Applied,
			Skipped:           res.Skipped,
			Duplicates:        res.Duplicates,
			HorizonDuplicates: res.HorizonDuplicates,
			Dropped:           norm.Dropped(),
			Warnings:          warnings,
		},
	}, nil
}

func status(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	case errors.Is(err, model.ErrTransientStorage), errors.Is(err, ErrBackpressure):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// KnowledgeState summarizes the stored records of a (student, course) pair
// without applying evidence.
func (s *Service) KnowledgeState(ctx context.Context, studentID, courseID string) (model.KnowledgeStateSnapshot, error) {
	if err := s.running(); err != nil {
		return model.KnowledgeStateSnapshot{}, err
	}
	if studentID == "" || courseID == "" {
		return model.KnowledgeStateSnapshot{}, invalid("userid and courseid are required")
	}
	return s.knowledgeState(ctx, studentID, courseID)
}

func (s *Service) knowledgeState(ctx context.Context, studentID, courseID string) (model.KnowledgeStateSnapshot, error) {
	records, err := s.store.List(ctx, studentID, courseID)
	if err != nil {
		metrics.RecordStorageError(s.store.Name(), "list")
		return model.KnowledgeStateSnapshot{}, fmt.Errorf("%w: list records: %w", model.ErrTransientStorage, err)
	}
	snap := s.registry.Snapshot()
	return summary.Summarize(studentID, courseID, records, s.thresholds, summary.Options{
		Weighting:  s.weighting,
		Importance: snap.Importance,
	}), nil
}

// TraceBatch traces attempts of many keys in parallel. Attempts of the same
// (student, course) pair run in their batch order. Per-attempt failures are
// reported in the results; the error is only set for a rejected batch.
func (s *Service) TraceBatch(ctx context.Context, attempts []model.Attempt) ([]BatchResult, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return nil, invalid("batch is empty")
	}
	if len(attempts) > s.maxBatchSize {
		return nil, invalid("batch of %d attempts exceeds limit %d", len(attempts), s.maxBatchSize)
	}

	var (
		order  []model.Key
		groups = make(map[model.Key][]int)
	)
	for i := range attempts {
		k := attempts[i].Key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	results := make([]BatchResult, len(attempts))
	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for _, k := range order {
		idx := groups[k]
		g.Go(func() error {
			for _, i := range idx {
				out, err := s.trace(ctx, attempts[i], ModeBatch)
				results[i] = BatchResult{AttemptID: attempts[i].AttemptID, Err: err}
				if err == nil {
					results[i].Outcome = &out
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// Enqueue submits a for asynchronous tracing and returns the job ID. An
// attempt that is already queued is acknowledged as a duplicate without
// being queued again.
func (s *Service) Enqueue(ctx context.Context, a model.Attempt) (jobID string, duplicate bool, err error) { //nolint:gocritic // hugeParam: attempts are request values
	if err := s.running(); err != nil {
		return "", false, err
	}
	if err := validateAttempt(&a); err != nil {
		return "", false, err
	}

	id := inflightID(&a)
	if s.inflight.SeenAndRecord(ctx, id) {
		metrics.RecordTraceRequest(ModeAsync, "duplicate")
		return "", true, nil
	}

	j := queue.Job{ID: uuid.NewString(), Attempt: a, EnqueuedAt: time.Now()}
	if err := s.pool.Submit(ctx, j); err != nil {
		s.inflight.Unrecord(ctx, id)
		if errors.Is(err, worker.ErrQueueFull) {
			metrics.RecordTraceRequest(ModeAsync, "rejected")
			return "", false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return "", false, err
	}
	s.logger.Debug(ctx, "attempt queued",
		logger.String("job_id", j.ID),
		logger.String("attempt_id", a.AttemptID),
	)
	return j.ID, false, nil
}

func (s *Service) jobDone(j queue.Job, _ error) { //nolint:gocritic // hugeParam: jobs travel by value
	s.inflight.Unrecord(context.Background(), inflightID(&j.Attempt))
}

func inflightID(a *model.Attempt) string {
	return a.Key().String() + "/" + a.AttemptID
}

// ReloadRegistry reloads the concept registry from its source.
func (s *Service) ReloadRegistry(ctx context.Context) (RegistryInfo, error) {
	if err := s.running(); err != nil {
		return RegistryInfo{}, err
	}
	if err := s.registry.Reload(ctx); err != nil {
		return RegistryInfo{}, err
	}
	return s.registryInfo(), nil
}

// RegistryInfo describes the published registry snapshot.
type RegistryInfo struct {
	Source   string    `json:"source"`
	Items    int       `json:"items"`
	Concepts int       `json:"concepts"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (s *Service) registryInfo() RegistryInfo {
	snap := s.registry.Snapshot()
	return RegistryInfo{
		Source:   snap.Source(),
		Items:    snap.Items(),
		Concepts: snap.Concepts(),
		LoadedAt: snap.LoadedAt(),
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	stats["rule"] = s.engine.RuleName()
	stats["store"] = s.store.Name()
	stats["registry"] = s.registryInfo()
	stats["queue"] = s.pool.Stats(ctx)
	stats["inFlight"] = s.inflight.Size()
	if c, ok := s.store.(repository.Counter); ok {
		if n, err := c.Count(ctx); err == nil {
			stats["records"] = n
		} else {
			s.logger.Warn(ctx, "record count failed", logger.Error(err))
		}
	}
	return stats
}
