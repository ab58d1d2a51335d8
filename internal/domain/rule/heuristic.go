package rule

import (
	"fmt"

	"github.com/okian/ktrace/internal/domain/model"
)

// Default heuristic parameters.
const (
	DefaultRate     = 0.3
	DefaultViewRate = 0.05
)

// HeuristicParams configure the moving-average rule.
type HeuristicParams struct {
	Rate     float64
	ViewRate float64
}

// Heuristic moves the estimate a fixed fraction toward the observed
// outcome: 1 for correct, 0 for incorrect, credit for partial.
type Heuristic struct {
	rate     float64
	viewRate float64
}

// NewHeuristic validates params and returns the rule.
func NewHeuristic(p HeuristicParams) (*Heuristic, error) {
	if p.Rate == 0 {
		p.Rate = DefaultRate
	}
	if p.ViewRate == 0 {
		p.ViewRate = DefaultViewRate
	}
	if !(p.Rate > 0 && p.Rate <= 1) {
		return nil, fmt.Errorf("%w: rate = %f, bounds (0, 1]", ErrInvalidParameters, p.Rate)
	}
	if !(p.ViewRate > 0 && p.ViewRate <= p.Rate) {
		return nil, fmt.Errorf("%w: view rate = %f, bounds (0, rate]", ErrInvalidParameters, p.ViewRate)
	}
	return &Heuristic{rate: p.Rate, viewRate: p.ViewRate}, nil
}

// Name implements Rule.
func (h *Heuristic) Name() string { return NameHeuristic }

// Update implements Rule.
func (h *Heuristic) Update(prior float64, outcome model.Outcome, weight float64) (float64, error) {
	if err := checkInputs(prior, outcome); err != nil {
		return 0, err
	}
	step := h.rate * clamp01(weight)
	switch outcome.Kind {
	case model.OutcomeCorrect:
		return clamp01(prior + step*(1-prior)), nil
	case model.OutcomeIncorrect:
		return clamp01(prior - step*prior), nil
	case model.OutcomePartial:
		return clamp01(prior + step*(outcome.Credit-prior)), nil
	default:
		return clamp01(prior + min(DefaultViewNudge, h.viewRate*clamp01(weight)*(1-prior))), nil
	}
}
