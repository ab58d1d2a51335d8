// Package loadgen drives a running ktrace server with synthetic attempts
// and checks that replaying them leaves every knowledge state unchanged.
package loadgen

import (
	"errors"
	"fmt"
	"time"
)

// Defaults for Config fields left at zero.
const (
	DefaultStudents   = 100
	DefaultCourses    = 2
	DefaultAttempts   = 5
	DefaultQuestions  = 8
	DefaultConcepts   = 6
	DefaultTimeout    = 30 * time.Second
	DefaultDrainLimit = 2 * time.Minute
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("loadgen: invalid config")

// Config holds the parameters of one run.
type Config struct {
	BaseURL string
	APIKey  string
	// Students per course.
	Students int
	Courses  int
	// Attempts per student and course.
	Attempts int
	// Questions per attempt, drawn from a bank of 4x as many.
	Questions int
	Concepts  int
	Workers   int
	Timeout   time.Duration
	// Async submits through /api/trace/async and waits for the queue to drain.
	Async bool
	// SkipReplay disables the idempotence check.
	SkipReplay bool
	// DrainLimit bounds the wait for async work.
	DrainLimit time.Duration
	Seed       uint64
	// OutputFile receives the generated attempts as JSON when set.
	OutputFile string
}

func (c *Config) withDefaults() {
	if c.Students == 0 {
		c.Students = DefaultStudents
	}
	if c.Courses == 0 {
		c.Courses = DefaultCourses
	}
	if c.Attempts == 0 {
		c.Attempts = DefaultAttempts
	}
	if c.Questions == 0 {
		c.Questions = DefaultQuestions
	}
	if c.Concepts == 0 {
		c.Concepts = DefaultConcepts
	}
	if c.Workers == 0 {
		c.Workers = 8
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DrainLimit == 0 {
		c.DrainLimit = DefaultDrainLimit
	}
}

// Validate applies defaults and checks bounds.
func (c *Config) Validate() error {
	c.withDefaults()
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is empty", ErrInvalidConfig)
	case c.Students < 0, c.Courses < 0, c.Attempts < 0, c.Questions < 0, c.Concepts < 0, c.Workers < 0:
		return fmt.Errorf("%w: counts must be positive", ErrInvalidConfig)
	}
	return nil
}

// Stats summarizes a run.
type Stats struct {
	AttemptsGenerated int
	Submitted         int
	Accepted          int
	Duplicates        int
	Failed            int
	StatesChecked     int
	Mismatches        int
	ReplayApplied     int
	StartTime         time.Time
	Duration          time.Duration
}
