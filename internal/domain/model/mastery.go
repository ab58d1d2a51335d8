package model

import (
	"time"

	"github.com/okian/ktrace/internal/domain/dedupe"
)

// DefaultPrior is the mastery probability assumed before any evidence.
const DefaultPrior = 0.3

// MasteryRecord is the tracked mastery state of one student for one concept
// in one course.
type MasteryRecord struct {
	StudentID   string        `json:"student_id"`
	CourseID    string        `json:"course_id"`
	ConceptID   string        `json:"concept_id"`
	Probability float64       `json:"probability"`
	LastUpdated time.Time     `json:"last_updated"`
	Applied     dedupe.Ledger `json:"applied"`
	UpdateCount int64         `json:"update_count"`
	// Version is the optimistic concurrency token. Zero means the record
	// has never been stored.
	Version int64 `json:"version"`
}

// NewMasteryRecord materializes the default record for key.
func NewMasteryRecord(key RecordKey, prior float64) MasteryRecord {
	return MasteryRecord{
		StudentID:   key.StudentID,
		CourseID:    key.CourseID,
		ConceptID:   key.ConceptID,
		Probability: prior,
	}
}

// Key returns the record's address.
func (r MasteryRecord) Key() RecordKey {
	return RecordKey{StudentID: r.StudentID, CourseID: r.CourseID, ConceptID: r.ConceptID}
}

// Evaluated reports whether any evidence was ever applied to the record.
func (r MasteryRecord) Evaluated() bool { return r.UpdateCount > 0 }

// Clone returns a copy that shares no mutable state with r.
func (r MasteryRecord) Clone() MasteryRecord {
	r.Applied = r.Applied.Clone()
	return r
}

// Commit is an atomic write of every record touched by one evidence event.
// Each record carries the version it was read at.
type Commit struct {
	StudentID string
	CourseID  string
	EventID   string
	Evidence  Evidence
	Records   []MasteryRecord
}
