// Package normalize turns the heterogeneous records of an LMS attempt into
// a time-ordered sequence of evidence events.
package normalize

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/internal/domain/registry"
)

// Default weights.
const (
	DefaultResponseWeight = 1.0
	DefaultHistoryWeight  = 0.75
	DefaultViewFactor     = 0.2
)

// Warning reasons.
const (
	ReasonUnresolvedConcept = "unresolved_concept"
	ReasonInvalidCorrect    = "invalid_correct"
	ReasonMissingTimestamp  = "missing_timestamp"
	ReasonMissingItemID     = "missing_item_id"
	ReasonMissingGrade      = "missing_grade"
	ReasonGradeClamped      = "grade_clamped"
	ReasonShortView         = "short_view"
)

// Warning is a data quality problem found in one input record. Warnings
// never fail normalization.
type Warning struct {
	Source model.Source `json:"source"`
	ItemID string       `json:"item_id"`
	Reason string       `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// Dropped reports whether the record was discarded.
func (w Warning) Dropped() bool { return w.Reason != ReasonGradeClamped }

// Result is the normalizer output.
type Result struct {
	Evidence []model.Evidence
	Warnings []Warning
}

// Dropped counts the discarded input records.
func (r Result) Dropped() int {
	n := 0
	for _, w := range r.Warnings {
		if w.Dropped() {
			n++
		}
	}
	return n
}

// Options configures weights.
type Options struct {
	ResponseWeight  float64
	HistoryWeight   float64
	ViewFactor      float64
	MinViewDuration time.Duration
}

// DefaultOptions returns the default weights.
func DefaultOptions() Options {
	return Options{
		ResponseWeight: DefaultResponseWeight,
		HistoryWeight:  DefaultHistoryWeight,
		ViewFactor:     DefaultViewFactor,
	}
}

// Resolver is the read side of a registry snapshot.
type Resolver interface {
	Resolve(itemID string, kind registry.ItemKind) []string
}

// Normalize converts an attempt into ordered evidence. It has no side
// effects; the same attempt and snapshot always give the same result.
func Normalize(a model.Attempt, snap Resolver, opts Options) Result {
	n := normalizer{attempt: a, snap: snap, opts: opts}
	for _, r := range a.Responses {
		n.response(r)
	}
	for _, h := range a.History {
		n.history(h)
	}
	for _, v := range a.ContentViews {
		n.view(v)
	}
	slices.SortStableFunc(n.out.Evidence, func(x, y model.Evidence) int {
		if c := x.Timestamp.Compare(y.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(x.SourceEventID, y.SourceEventID)
	})
	return n.out
}

type normalizer struct {
	attempt model.Attempt
	snap    Resolver
	opts    Options
	out     Result
}

func (n *normalizer) warn(src model.Source, item, reason, detail string) {
	n.out.Warnings = append(n.out.Warnings, Warning{Source: src, ItemID: item, Reason: reason, Detail: detail})
}

func (n *normalizer) emit(src model.Source, item, eventID string, ts time.Time, concepts []string, o model.Outcome, w float64) {
	n.out.Evidence = append(n.out.Evidence, model.Evidence{
		StudentID:     n.attempt.StudentID,
		CourseID:      n.attempt.CourseID,
		ConceptIDs:    concepts,
		Outcome:       o,
		Weight:        w,
		Timestamp:     ts.UTC(),
		SourceEventID: eventID,
		Source:        src,
		ItemID:        item,
	})
}

// common checks shared by every record kind. It returns the resolved
// concepts or false when the record was dropped.
func (n *normalizer) common(src model.Source, item string, ts time.Time, kinds ...registry.ItemKind) ([]string, bool) {
	if strings.TrimSpace(item) == "" {
		n.warn(src, item, ReasonMissingItemID, "")
		return nil, false
	}
	if ts.IsZero() {
		n.warn(src, item, ReasonMissingTimestamp, "")
		return nil, false
	}
	for _, k := range kinds {
		if cs := n.resolve(item, k); len(cs) > 0 {
			return cs, true
		}
	}
	n.warn(src, item, ReasonUnresolvedConcept, "")
	return nil, false
}

func (n *normalizer) resolve(item string, kind registry.ItemKind) []string {
	if n.snap == nil {
		return nil
	}
	cs := n.snap.Resolve(item, kind)
	slices.Sort(cs)
	return slices.Compact(cs)
}

func (n *normalizer) response(r model.Response) {
	var o model.Outcome
	switch r.Correct {
	case model.CorrectnessCorrect:
		o = model.Correct()
	case model.CorrectnessIncorrect:
		o = model.Incorrect()
	default:
		n.warn(model.SourceResponse, r.QuestionID, ReasonInvalidCorrect, "")
		return
	}
	concepts, ok := n.common(model.SourceResponse, r.QuestionID, r.Timestamp, registry.KindQuestion)
	if !ok {
		return
	}
	id := eventID(r.EventID, "response", r.QuestionID, r.Timestamp)
	n.emit(model.SourceResponse, r.QuestionID, id, r.Timestamp, concepts, o, n.opts.ResponseWeight)
}

func (n *normalizer) history(h model.HistoryEntry) {
	if h.Grade == nil {
		n.warn(model.SourceHistory, h.ItemID, ReasonMissingGrade, "")
		return
	}
	concepts, ok := n.common(model.SourceHistory, h.ItemID, h.Timestamp, historyKinds(h.Kind)...)
	if !ok {
		return
	}
	grade := *h.Grade
	if math.IsNaN(grade) || grade < 0 || grade > 1 {
		clamped := clamp01(grade)
		n.warn(model.SourceHistory, h.ItemID, ReasonGradeClamped, fmt.Sprintf("%v -> %v", grade, clamped))
		grade = clamped
	}
	id := eventID(h.EventID, "history", h.ItemID, h.Timestamp)
	n.emit(model.SourceHistory, h.ItemID, id, h.Timestamp, concepts, model.Partial(grade), n.opts.HistoryWeight)
}

func (n *normalizer) view(v model.ContentView) {
	if n.opts.MinViewDuration > 0 && v.ViewDuration < n.opts.MinViewDuration {
		n.warn(model.SourceContentView, v.ContentID, ReasonShortView, v.ViewDuration.String())
		return
	}
	concepts, ok := n.common(model.SourceContentView, v.ContentID, v.Timestamp, registry.KindContent)
	if !ok {
		return
	}
	id := eventID(v.EventID, "view", v.ContentID, v.Timestamp)
	n.emit(model.SourceContentView, v.ContentID, id, v.Timestamp, concepts, model.Viewed(), n.opts.ResponseWeight*n.opts.ViewFactor)
}

// historyKinds resolves history items as activities first, then as
// questions, unless the record names its kind.
func historyKinds(kind string) []registry.ItemKind {
	if registry.ItemKind(strings.ToLower(kind)) == registry.KindQuestion {
		return []registry.ItemKind{registry.KindQuestion, registry.KindActivity}
	}
	return []registry.ItemKind{registry.KindActivity, registry.KindQuestion}
}

// eventID returns the explicit ID or derives one from stable record content.
func eventID(explicit, prefix, item string, ts time.Time) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return fmt.Sprintf("%s:%s:%d", prefix, strings.TrimSpace(item), ts.UnixNano())
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
