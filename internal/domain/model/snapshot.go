package model

import "time"

// ConceptState is the reported mastery of one evaluated concept.
type ConceptState struct {
	ConceptID   string  `json:"concept_id"`
	Probability float64 `json:"probability"`
	Evidence    int64   `json:"evidence"`
	Weight      float64 `json:"weight"`
}

// KnowledgeStateSnapshot is the derived, read-only view of a student's
// knowledge state in a course.
type KnowledgeStateSnapshot struct {
	StudentID          string         `json:"student_id"`
	CourseID           string         `json:"course_id"`
	ConceptsMastered   []string       `json:"concepts_mastered"`
	ConceptsStruggling []string       `json:"concepts_struggling"`
	OverallProficiency float64        `json:"overall_proficiency_estimate"`
	ConceptsEvaluated  int            `json:"concepts_evaluated"`
	Concepts           []ConceptState `json:"concepts"`
	GeneratedAt        time.Time      `json:"generated_at"`
}
