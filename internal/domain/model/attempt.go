package model

import "time"

// Correctness is the tri-state correct flag of an LMS response plus a
// marker for values that could not be interpreted.
type Correctness int

// Correctness values.
const (
	CorrectnessUnset Correctness = iota
	CorrectnessCorrect
	CorrectnessIncorrect
	CorrectnessInvalid
)

// Response is one answered question in an attempt.
type Response struct {
	QuestionID string
	Correct    Correctness
	Timestamp  time.Time
	EventID    string
}

// HistoryEntry is a graded past activity. Grade is nil when the LMS sent no
// numeric grade.
type HistoryEntry struct {
	ItemID    string
	Kind      string
	Grade     *float64
	Timestamp time.Time
	EventID   string
}

// ContentView is a passive view of course content.
type ContentView struct {
	ContentID    string
	Kind         string
	ViewDuration time.Duration
	Timestamp    time.Time
	EventID      string
}

// Attempt is everything the LMS sends for one quiz attempt.
type Attempt struct {
	AttemptID    string
	StudentID    string
	CourseID     string
	QuizID       string
	QuizName     string
	FirstName    string
	Responses    []Response
	History      []HistoryEntry
	ContentViews []ContentView
}

// Key returns the attempt's (student, course) pair.
func (a Attempt) Key() Key { return Key{StudentID: a.StudentID, CourseID: a.CourseID} }

// Empty reports whether the attempt carries no interaction records.
func (a Attempt) Empty() bool {
	return len(a.Responses) == 0 && len(a.History) == 0 && len(a.ContentViews) == 0
}
