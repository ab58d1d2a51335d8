// Package tracing is the knowledge tracing update engine: the only writer
// of mastery state.
package tracing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/okian/ktrace/internal/domain/dedupe"
	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/internal/domain/rule"
	"github.com/okian/ktrace/pkg/logger"
	"github.com/okian/ktrace/pkg/metrics"
)

// stepTolerance absorbs floating point error in the max step check.
const stepTolerance = 1e-9

// Store is the subset of the mastery store the engine needs.
type Store interface {
	Get(ctx context.Context, key model.RecordKey) (model.MasteryRecord, error)
	Commit(ctx context.Context, c model.Commit) error
}

// Result summarizes one Apply call. Touched holds the latest committed
// state of every record written, ordered by concept ID.
type Result struct {
	Touched    []model.MasteryRecord
	Applied    int
	Skipped    int
	Duplicates int
	// HorizonDuplicates counts the Duplicates recognised only through the
	// ledger horizon, not by event ID.
	HorizonDuplicates int
}

// Engine applies evidence to mastery records in order, one (student,
// course) pair at a time.
type Engine struct {
	store       Store
	rule        rule.Rule
	locks       *KeyLock
	maxStep     float64
	window      int
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	log         logger.Logger
}

// New creates an engine.
func New(store Store, r rule.Rule, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if r == nil {
		return nil, ErrNoRule
	}
	e := &Engine{
		store: store,
		rule:  r,
		log:   logger.Get().Named("tracing"),
	}
	defaults(e)
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = NewKeyLock(DefaultLockShards)
	}
	return e, nil
}

// RuleName returns the name of the configured update rule.
func (e *Engine) RuleName() string { return e.rule.Name() }

type disposition int

const (
	applied disposition = iota
	duplicate
	horizonDuplicate
	skipped
)

// Apply folds evs into the mastery state of (studentID, courseID).
//
// Events are applied in slice order. Invalid events are skipped and
// counted. Events already recorded in every target concept's ledger are
// counted as duplicates and change nothing. Each event commits atomically
// across its concepts. When the context is cancelled between events, or
// storage keeps failing, Apply returns the counts of what was committed
// together with the error; committed events stay valid and a retry of the
// same sequence skips them.
func (e *Engine) Apply(ctx context.Context, studentID, courseID string, evs []model.Evidence) (res Result, err error) {
	const op = "tracing.apply"
	start := time.Now()
	defer func() {
		metrics.RecordApplyLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	key := model.Key{StudentID: studentID, CourseID: courseID}
	unlock, err := e.locks.Lock(ctx, key)
	if err != nil {
		return res, fmt.Errorf("%s: acquire lock %s: %w", op, key, err)
	}
	defer unlock()

	touched := make(map[string]model.MasteryRecord)
	defer func() { res.Touched = sortedRecords(touched) }()

	for i := range evs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev := evs[i]
		if reason := e.validate(key, ev); reason != "" {
			e.skip(ctx, &res, ev, reason)
			continue
		}

		disp, recs, err := e.applyOne(ctx, ev)
		if err != nil {
			return res, err
		}
		switch disp {
		case skipped:
			e.skip(ctx, &res, ev, SkipBadOutcome)
		case duplicate:
			res.Duplicates++
			metrics.RecordEvidenceDuplicate(DuplicateByID)
		case horizonDuplicate:
			res.Duplicates++
			res.HorizonDuplicates++
			metrics.RecordEvidenceDuplicate(DuplicateByHorizon)
			e.log.Warn(ctx, "evidence older than ledger horizon treated as applied",
				logger.String("student", ev.StudentID),
				logger.String("course", ev.CourseID),
				logger.String("event_id", ev.SourceEventID),
				logger.String("timestamp", ev.Timestamp.Format(time.RFC3339)))
		case applied:
			res.Applied++
			metrics.RecordEvidenceApplied(string(ev.Source))
			for _, r := range recs {
				touched[r.ConceptID] = r
				metrics.RecordPosterior(r.Probability)
			}
		}
	}
	return res, nil
}

// skip records a data quality warning for ev.
func (e *Engine) skip(ctx context.Context, res *Result, ev model.Evidence, reason string) {
	res.Skipped++
	metrics.RecordEvidenceSkipped(reason)
	e.log.Warn(ctx, "skipping evidence",
		logger.String("student", ev.StudentID),
		logger.String("course", ev.CourseID),
		logger.String("event_id", ev.SourceEventID),
		logger.String("reason", reason))
}

func (e *Engine) validate(key model.Key, ev model.Evidence) string {
	switch {
	case ev.StudentID != key.StudentID || ev.CourseID != key.CourseID:
		return SkipKeyMismatch
	case len(ev.ConceptIDs) == 0 || slices.Contains(ev.ConceptIDs, ""):
		return SkipEmptyConcepts
	case ev.Outcome.Validate() != nil:
		return SkipBadOutcome
	case math.IsNaN(ev.Weight) || math.IsInf(ev.Weight, 0) || ev.Weight < 0:
		return SkipBadWeight
	}
	return ""
}

// applyOne runs the read-modify-write cycle for one event until it commits,
// turns out to be a duplicate, or runs out of attempts.
func (e *Engine) applyOne(ctx context.Context, ev model.Evidence) (disposition, []model.MasteryRecord, error) {
	concepts := slices.Clone(ev.ConceptIDs)
	slices.Sort(concepts)
	concepts = slices.Compact(concepts)

	backoff := e.backoff
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		pending, byHorizon, err := e.readPending(ctx, ev, concepts)
		if err == nil && len(pending) == 0 {
			if byHorizon {
				return horizonDuplicate, nil, nil
			}
			return duplicate, nil, nil
		}
		if err == nil {
			if err := e.update(ctx, ev, pending); err != nil {
				if errors.Is(err, model.ErrUnknownOutcome) {
					return skipped, nil, nil
				}
				return applied, nil, err
			}
			err = e.store.Commit(ctx, model.Commit{
				StudentID: ev.StudentID,
				CourseID:  ev.CourseID,
				EventID:   ev.SourceEventID,
				Evidence:  ev,
				Records:   pending,
			})
			if err == nil {
				for i := range pending {
					pending[i].Version++
				}
				return applied, pending, nil
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return applied, nil, ctxErr
		}
		lastErr = err

		if errors.Is(err, model.ErrConflict) {
			// someone else wrote in between; re-read right away
			metrics.RecordCommitConflict()
			continue
		}
		metrics.RecordCommitRetry()
		e.log.Warn(ctx, "storage error, retrying",
			logger.String("event_id", ev.SourceEventID),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", backoff),
			logger.Error(err))
		if attempt == e.maxAttempts {
			break
		}
		if err := sleep(ctx, backoff); err != nil {
			return applied, nil, err
		}
		backoff = min(2*backoff, e.maxBackoff)
	}
	e.log.Error(ctx, "giving up on evidence",
		logger.String("event_id", ev.SourceEventID),
		logger.Int("attempts", e.maxAttempts),
		logger.Error(lastErr))
	return applied, nil, fmt.Errorf("%w: event %s after %d attempts: %w", model.ErrTransientStorage, ev.SourceEventID, e.maxAttempts, lastErr)
}

// readPending returns the records of every concept that has not yet seen
// the event. byHorizon is set when any concept recognised the event only
// through its ledger horizon.
func (e *Engine) readPending(ctx context.Context, ev model.Evidence, concepts []string) (pending []model.MasteryRecord, byHorizon bool, err error) {
	pending = make([]model.MasteryRecord, 0, len(concepts))
	for _, c := range concepts {
		rec, err := e.store.Get(ctx, model.RecordKey{StudentID: ev.StudentID, CourseID: ev.CourseID, ConceptID: c})
		if err != nil {
			return nil, false, err
		}
		switch rec.Applied.Lookup(ev.SourceEventID, ev.Timestamp) {
		case dedupe.ByID:
		case dedupe.ByHorizon:
			byHorizon = true
		default:
			pending = append(pending, rec)
		}
	}
	return pending, byHorizon, nil
}

// update computes posteriors in place and checks the rule contract.
func (e *Engine) update(ctx context.Context, ev model.Evidence, recs []model.MasteryRecord) error {
	for i := range recs {
		prior := recs[i].Probability
		post, err := e.rule.Update(prior, ev.Outcome, ev.Weight)
		if errors.Is(err, model.ErrUnknownOutcome) {
			return err
		}
		if err == nil {
			err = e.verify(prior, post, ev.Outcome)
		}
		if err != nil {
			metrics.RecordInvariantViolation(e.rule.Name())
			e.log.Error(ctx, "update rule broke its contract",
				logger.String("rule", e.rule.Name()),
				logger.String("concept", recs[i].ConceptID),
				logger.String("event_id", ev.SourceEventID),
				logger.Float64("prior", prior),
				logger.Float64("posterior", post),
				logger.Error(err))
			if !errors.Is(err, model.ErrInvariantViolation) {
				err = fmt.Errorf("%w: %w", model.ErrInvariantViolation, err)
			}
			return err
		}
		recs[i].Probability = post
		if ev.Timestamp.After(recs[i].LastUpdated) {
			recs[i].LastUpdated = ev.Timestamp
		}
		recs[i].Applied = recs[i].Applied.Record(ev.SourceEventID, ev.Timestamp, e.window)
		recs[i].UpdateCount++
	}
	return nil
}

func (e *Engine) verify(prior, post float64, o model.Outcome) error {
	switch {
	case math.IsNaN(post) || math.IsInf(post, 0):
		return fmt.Errorf("%w: %s posterior is not finite", model.ErrInvariantViolation, e.rule.Name())
	case post < 0 || post > 1:
		return fmt.Errorf("%w: %s posterior %v outside [0,1]", model.ErrInvariantViolation, e.rule.Name(), post)
	case math.Abs(post-prior) > e.maxStep+stepTolerance:
		return fmt.Errorf("%w: %s moved %v -> %v, more than max step %v", model.ErrInvariantViolation, e.rule.Name(), prior, post, e.maxStep)
	case o.Kind == model.OutcomeCorrect && post < prior:
		return fmt.Errorf("%w: %s lowered mastery on a correct outcome", model.ErrInvariantViolation, e.rule.Name())
	case o.Kind == model.OutcomeIncorrect && post > prior:
		return fmt.Errorf("%w: %s raised mastery on an incorrect outcome", model.ErrInvariantViolation, e.rule.Name())
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func sortedRecords(m map[string]model.MasteryRecord) []model.MasteryRecord {
	out := make([]model.MasteryRecord, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b model.MasteryRecord) int { return cmp.Compare(a.ConceptID, b.ConceptID) })
	return out
}
