// Package rule contains the pluggable mastery update rules.
//
// A rule maps (prior, outcome, weight) to a posterior probability. Every
// rule must keep the posterior in [0,1], never lower the estimate on a
// correct outcome and never raise it on an incorrect one. The tracing
// engine checks these properties on every update.
package rule

import (
	"fmt"
	"math"

	"github.com/okian/ktrace/internal/domain/model"
)

// Rule names accepted by New.
const (
	NameBKT       = "bkt"
	NameHeuristic = "heuristic"
)

// DefaultMaxStep bounds how far one event may move a probability.
const DefaultMaxStep = 0.3

// Rule computes a posterior mastery probability.
type Rule interface {
	Name() string
	Update(prior float64, outcome model.Outcome, weight float64) (float64, error)
}

// Func adapts a function to the Rule interface.
type Func func(prior float64, outcome model.Outcome, weight float64) (float64, error)

// Name implements Rule.
func (f Func) Name() string { return "func" }

// Update implements Rule.
func (f Func) Update(prior float64, outcome model.Outcome, weight float64) (float64, error) {
	return f(prior, outcome, weight)
}

// Config selects and parameterizes a rule.
type Config struct {
	Name      string
	BKT       BKTParams
	Heuristic HeuristicParams
	MaxStep   float64
}

// New builds the named rule wrapped with the max-step bound.
func New(cfg Config) (Rule, error) {
	var (
		r   Rule
		err error
	)
	switch cfg.Name {
	case "", NameBKT:
		r, err = NewBKT(cfg.BKT)
	case NameHeuristic:
		r, err = NewHeuristic(cfg.Heuristic)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRule, cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	maxStep := cfg.MaxStep
	if maxStep == 0 {
		maxStep = DefaultMaxStep
	}
	return WithMaxStep(r, maxStep)
}

type maxStep struct {
	next Rule
	step float64
}

// WithMaxStep limits how far a single update may move the probability.
func WithMaxStep(r Rule, step float64) (Rule, error) {
	if math.IsNaN(step) || step <= 0 || step > 1 {
		return nil, fmt.Errorf("%w: max step %v not in (0,1]", ErrInvalidParameters, step)
	}
	return &maxStep{next: r, step: step}, nil
}

func (m *maxStep) Name() string { return m.next.Name() }

func (m *maxStep) Update(prior float64, outcome model.Outcome, weight float64) (float64, error) {
	post, err := m.next.Update(prior, outcome, weight)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(post) || math.IsInf(post, 0) {
		// left for the engine to report
		return post, nil
	}
	return clampRange(post, prior-m.step, prior+m.step), nil
}

// interpolate moves from prior toward target by the weight fraction.
func interpolate(prior, target, weight float64) float64 {
	return prior + clamp01(weight)*(target-prior)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return clampRange(x, 0, 1)
}

func clampRange(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func checkInputs(prior float64, outcome model.Outcome) error {
	if math.IsNaN(prior) || prior < 0 || prior > 1 {
		return fmt.Errorf("%w: prior %v outside [0,1]", model.ErrInvariantViolation, prior)
	}
	return outcome.Validate()
}
