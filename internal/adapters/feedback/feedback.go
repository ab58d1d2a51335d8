// Package feedback turns a knowledge state snapshot into learner-facing text.
//
// Generator is the boundary to whatever produces the text. Template is the
// built-in implementation; a language-model backed generator plugs in behind
// the same interface.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/ktrace/internal/domain/model"
	"github.com/okian/ktrace/pkg/logger"
)

// ErrNoSnapshot is returned when a request carries no knowledge state.
var ErrNoSnapshot = errors.New("feedback: missing knowledge state")

const (
	defaultFirstName = "Student"
	defaultClosing   = "Consider revisiting relevant materials or practice problems. Keep up the good work!"
)

// Request is the input to a Generator.
type Request struct {
	AttemptID string
	QuizID    string
	QuizName  string
	FirstName string
	State     *model.KnowledgeStateSnapshot
}

// RequestFor builds a Request from an attempt and the state traced from it.
func RequestFor(a *model.Attempt, state *model.KnowledgeStateSnapshot) Request {
	return Request{
		AttemptID: a.AttemptID,
		QuizID:    a.QuizID,
		QuizName:  a.QuizName,
		FirstName: a.FirstName,
		State:     state,
	}
}

// Generator produces feedback text.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Template renders feedback from fixed sentences.
type Template struct {
	closing string
	logger  logger.Logger
}

// Option configures a Template.
type Option func(*Template)

// WithClosing replaces the final sentence.
func WithClosing(s string) Option {
	return func(t *Template) {
		if s != "" {
			t.closing = s
		}
	}
}

// WithLogger sets the logger used for generated text.
func WithLogger(l logger.Logger) Option {
	return func(t *Template) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTemplate returns a template generator.
func NewTemplate(opts ...Option) *Template {
	t := &Template{closing: defaultClosing}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.Get().Named("feedback")
	}
	return t
}

// Generate renders the greeting, the mastered and struggling concept lists
// when present, and the closing sentence.
func (t *Template) Generate(ctx context.Context, req Request) (string, error) {
	if req.State == nil {
		return "", ErrNoSnapshot
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := req.FirstName
	if name == "" {
		name = defaultFirstName
	}
	quiz := req.QuizName
	if quiz == "" {
		quiz = fmt.Sprintf("Quiz (ID: %s)", req.QuizID)
	}

	parts := []string{fmt.Sprintf("Great effort, %s, on the quiz '%s' (attempt %s)!", name, quiz, req.AttemptID)}
	if len(req.State.ConceptsMastered) > 0 {
		parts = append(parts, fmt.Sprintf("It seems you're doing well with %s.", list(req.State.ConceptsMastered)))
	}
	if len(req.State.ConceptsStruggling) > 0 {
		parts = append(parts, fmt.Sprintf("You might need to review %s.", list(req.State.ConceptsStruggling)))
	}
	parts = append(parts, t.closing)

	text := strings.Join(parts, " ")
	t.logger.Debug(ctx, "generated feedback",
		logger.String("attempt_id", req.AttemptID),
		logger.Int("mastered", len(req.State.ConceptsMastered)),
		logger.Int("struggling", len(req.State.ConceptsStruggling)),
	)
	return text, nil
}

func list(ids []string) string {
	switch len(ids) {
	case 1:
		return ids[0]
	case 2:
		return ids[0] + " and " + ids[1]
	default:
		return strings.Join(ids[:len(ids)-1], ", ") + " and " + ids[len(ids)-1]
	}
}
