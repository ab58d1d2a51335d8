// Package repository holds the Mastery Store backends.
//
// Every backend implements the same optimistic protocol: Get materializes a
// default record (Version 0) without persisting it, and Commit writes all
// records of one evidence event atomically, failing with ErrConflict when
// any record's stored version differs from the version it was read at.
package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/okian/ktrace/internal/domain/model"
)

// Store provides read/write access to mastery state.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Get returns the record for key, or the default record with Version 0
	// if none is stored.
	Get(ctx context.Context, key model.RecordKey) (model.MasteryRecord, error)

	// Commit atomically stores every record in c. It returns ErrConflict if
	// any record's Version no longer matches the stored version. On success
	// each stored version is incremented.
	Commit(ctx context.Context, c model.Commit) error

	// List returns the stored records of a (student, course) pair ordered by
	// concept ID.
	List(ctx context.Context, studentID, courseID string) ([]model.MasteryRecord, error)

	// Close releases backend resources.
	Close() error
}

// Counter is implemented by stores that can cheaply count their records.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// validateCommit rejects commits that could never be applied.
func validateCommit(c model.Commit) error {
	if c.StudentID == "" || c.CourseID == "" || c.EventID == "" {
		return fmt.Errorf("%w: student, course and event id are required", ErrInvalidCommit)
	}
	if len(c.Records) == 0 {
		return fmt.Errorf("%w: no records", ErrInvalidCommit)
	}
	seen := make(map[string]struct{}, len(c.Records))
	for _, r := range c.Records {
		if r.StudentID != c.StudentID || r.CourseID != c.CourseID {
			return fmt.Errorf("%w: record %s does not belong to %s/%s", ErrInvalidCommit, r.ConceptID, c.StudentID, c.CourseID)
		}
		if r.ConceptID == "" {
			return fmt.Errorf("%w: empty concept id", ErrInvalidCommit)
		}
		if _, dup := seen[r.ConceptID]; dup {
			return fmt.Errorf("%w: concept %s appears twice", ErrInvalidCommit, r.ConceptID)
		}
		seen[r.ConceptID] = struct{}{}
		if math.IsNaN(r.Probability) || r.Probability < 0 || r.Probability > 1 {
			return fmt.Errorf("%w: probability %v outside [0,1]", ErrInvalidCommit, r.Probability)
		}
		if r.Version < 0 {
			return fmt.Errorf("%w: negative version", ErrInvalidCommit)
		}
	}
	return nil
}
