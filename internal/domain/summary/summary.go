// Package summary derives the reported knowledge state from mastery records.
package summary

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/okian/ktrace/internal/domain/model"
)

// Default thresholds.
const (
	DefaultMasteryThreshold    = 0.75
	DefaultStrugglingThreshold = 0.35
)

// Weighting selects how concepts contribute to overall proficiency.
type Weighting string

// Weighting modes.
const (
	WeightEvidence   Weighting = "evidence"
	WeightImportance Weighting = "importance"
	WeightUniform    Weighting = "uniform"
)

// ErrInvalidThresholds is returned by Thresholds.Validate.
var ErrInvalidThresholds = errors.New("summary: invalid thresholds")

// Thresholds classify concepts as mastered or struggling.
type Thresholds struct {
	Mastery    float64
	Struggling float64
}

// DefaultThresholds returns the default classification thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Mastery: DefaultMasteryThreshold, Struggling: DefaultStrugglingThreshold}
}

// Validate requires 0 <= struggling < mastery <= 1.
func (t Thresholds) Validate() error {
	if !(t.Struggling >= 0 && t.Struggling < t.Mastery && t.Mastery <= 1) {
		return fmt.Errorf("%w: need 0 <= struggling (%v) < mastery (%v) <= 1", ErrInvalidThresholds, t.Struggling, t.Mastery)
	}
	return nil
}

// Importance returns a concept's registry importance.
type Importance func(conceptID string) float64

// Options controls weighting.
type Options struct {
	Weighting  Weighting
	Importance Importance
	// Now stamps GeneratedAt; time.Now when nil.
	Now func() time.Time
}

// Summarize builds the snapshot for one (student, course) pair. Records
// that never received evidence are ignored entirely.
func Summarize(studentID, courseID string, records []model.MasteryRecord, th Thresholds, opts Options) model.KnowledgeStateSnapshot {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	snap := model.KnowledgeStateSnapshot{
		StudentID:          studentID,
		CourseID:           courseID,
		ConceptsMastered:   []string{},
		ConceptsStruggling: []string{},
		Concepts:           []model.ConceptState{},
		GeneratedAt:        now().UTC(),
	}

	var sum, total float64
	for _, r := range records {
		if !r.Evaluated() || r.StudentID != studentID || r.CourseID != courseID {
			continue
		}
		w := weight(r, opts)
		snap.Concepts = append(snap.Concepts, model.ConceptState{
			ConceptID:   r.ConceptID,
			Probability: r.Probability,
			Evidence:    r.UpdateCount,
			Weight:      w,
		})
		switch {
		case r.Probability >= th.Mastery:
			snap.ConceptsMastered = append(snap.ConceptsMastered, r.ConceptID)
		case r.Probability <= th.Struggling:
			snap.ConceptsStruggling = append(snap.ConceptsStruggling, r.ConceptID)
		}
		sum += w * r.Probability
		total += w
	}

	slices.Sort(snap.ConceptsMastered)
	slices.Sort(snap.ConceptsStruggling)
	slices.SortFunc(snap.Concepts, func(a, b model.ConceptState) int { return cmp.Compare(a.ConceptID, b.ConceptID) })
	snap.ConceptsEvaluated = len(snap.Concepts)
	if total > 0 {
		snap.OverallProficiency = sum / total
	}
	return snap
}

func weight(r model.MasteryRecord, opts Options) float64 {
	var w float64
	switch opts.Weighting {
	case WeightImportance:
		w = 1
		if opts.Importance != nil {
			w = opts.Importance(r.ConceptID)
		}
	case WeightUniform:
		w = 1
	default:
		w = float64(r.UpdateCount)
	}
	if math.IsNaN(w) || w < 0 {
		return 0
	}
	return w
}
