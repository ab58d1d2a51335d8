// Package model contains the domain types shared by the knowledge tracing
// components: evidence, mastery records, snapshots and LMS attempts.
package model

import (
	"fmt"
	"math"
	"time"
)

// Source identifies where a piece of evidence originated.
type Source string

// Evidence sources.
const (
	SourceResponse    Source = "response"
	SourceHistory     Source = "history"
	SourceContentView Source = "content_view"
)

// OutcomeKind is the observed result of an interaction.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeCorrect   OutcomeKind = "correct"
	OutcomeIncorrect OutcomeKind = "incorrect"
	OutcomePartial   OutcomeKind = "partial"
	OutcomeViewed    OutcomeKind = "viewed"
)

// Valid reports whether k is one of the known outcome kinds.
func (k OutcomeKind) Valid() bool {
	switch k {
	case OutcomeCorrect, OutcomeIncorrect, OutcomePartial, OutcomeViewed:
		return true
	default:
		return false
	}
}

// Outcome is the result carried by an Evidence event. Credit is only
// meaningful for partial outcomes and lies in [0,1].
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Credit float64     `json:"credit,omitempty"`
}

// Correct returns a correct outcome.
func Correct() Outcome { return Outcome{Kind: OutcomeCorrect, Credit: 1} }

// Incorrect returns an incorrect outcome.
func Incorrect() Outcome { return Outcome{Kind: OutcomeIncorrect} }

// Viewed returns a viewed outcome.
func Viewed() Outcome { return Outcome{Kind: OutcomeViewed} }

// Partial returns a partial outcome with the given credit.
func Partial(credit float64) Outcome { return Outcome{Kind: OutcomePartial, Credit: credit} }

// Validate checks the outcome kind and, for partial outcomes, the credit.
func (o Outcome) Validate() error {
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, o.Kind)
	}
	if o.Kind == OutcomePartial && (math.IsNaN(o.Credit) || o.Credit < 0 || o.Credit > 1) {
		return fmt.Errorf("%w: partial credit %v outside [0,1]", ErrUnknownOutcome, o.Credit)
	}
	return nil
}

func (o Outcome) String() string {
	if o.Kind == OutcomePartial {
		return fmt.Sprintf("partial(%.3f)", o.Credit)
	}
	return string(o.Kind)
}

// Evidence is one normalized observation bearing on the mastery of one or
// more concepts. Evidence values are treated as immutable once built.
type Evidence struct {
	StudentID     string    `json:"student_id"`
	CourseID      string    `json:"course_id"`
	ConceptIDs    []string  `json:"concept_ids"`
	Outcome       Outcome   `json:"outcome"`
	Weight        float64   `json:"weight"`
	Timestamp     time.Time `json:"timestamp"`
	SourceEventID string    `json:"source_event_id"`
	Source        Source    `json:"source"`
	ItemID        string    `json:"item_id,omitempty"`
}

// Key is the (student, course) pair that serializes evidence application.
type Key struct {
	StudentID string
	CourseID  string
}

func (k Key) String() string { return k.StudentID + "/" + k.CourseID }

// RecordKey addresses a single mastery record.
type RecordKey struct {
	StudentID string
	CourseID  string
	ConceptID string
}

// Pair returns the (student, course) part of the key.
func (k RecordKey) Pair() Key { return Key{StudentID: k.StudentID, CourseID: k.CourseID} }
