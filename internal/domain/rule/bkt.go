package rule

import (
	"fmt"

	"github.com/okian/ktrace/internal/domain/model"
)

// Default BKT parameters.
const (
	DefaultGuess     = 0.20
	DefaultSlip      = 0.08
	DefaultLearn     = 0.18
	DefaultViewNudge = 0.02
)

// BKTParams are the Bayesian Knowledge Tracing parameters. Zero values fall
// back to the defaults.
type BKTParams struct {
	Guess     float64
	Slip      float64
	Learn     float64
	ViewNudge float64
}

func (p BKTParams) withDefaults() BKTParams {
	if p.Guess == 0 {
		p.Guess = DefaultGuess
	}
	if p.Slip == 0 {
		p.Slip = DefaultSlip
	}
	if p.Learn == 0 {
		p.Learn = DefaultLearn
	}
	if p.ViewNudge == 0 {
		p.ViewNudge = DefaultViewNudge
	}
	return p
}

// Validate checks the parameters against their bounds. Guess and slip stay
// below 0.5 so that a correct answer is always evidence of mastery.
func (p BKTParams) Validate() error {
	switch {
	case !(p.Guess > 0 && p.Guess < 0.5):
		return fmt.Errorf("%w: guess = %f, bounds (0, 0.5)", ErrInvalidParameters, p.Guess)
	case !(p.Slip > 0 && p.Slip < 0.5):
		return fmt.Errorf("%w: slip = %f, bounds (0, 0.5)", ErrInvalidParameters, p.Slip)
	case !(p.Learn >= 0 && p.Learn <= 1):
		return fmt.Errorf("%w: learn = %f, bounds [0, 1]", ErrInvalidParameters, p.Learn)
	case !(p.ViewNudge >= 0 && p.ViewNudge <= 0.1):
		return fmt.Errorf("%w: view nudge = %f, bounds [0, 0.1]", ErrInvalidParameters, p.ViewNudge)
	}
	return nil
}

// BKT is the Bayesian Knowledge Tracing rule.
type BKT struct {
	p BKTParams
}

// NewBKT validates params and returns the rule.
func NewBKT(params BKTParams) (*BKT, error) {
	params = params.withDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &BKT{p: params}, nil
}

// Name implements Rule.
func (b *BKT) Name() string { return NameBKT }

// Update implements Rule. The full BKT step is scaled by weight.
func (b *BKT) Update(prior float64, outcome model.Outcome, weight float64) (float64, error) {
	if err := checkInputs(prior, outcome); err != nil {
		return 0, err
	}
	var target float64
	switch outcome.Kind {
	case model.OutcomeCorrect:
		target = b.learn(b.posterior(prior, true), 1)
	case model.OutcomeIncorrect:
		target = b.posterior(prior, false)
	case model.OutcomePartial:
		c := outcome.Credit
		blended := c*b.posterior(prior, true) + (1-c)*b.posterior(prior, false)
		target = b.learn(blended, c)
	case model.OutcomeViewed:
		target = prior + min(b.p.ViewNudge, (1-prior)*b.p.Learn)
	}
	return clamp01(interpolate(prior, target, weight)), nil
}

// posterior is P(known | observation).
func (b *BKT) posterior(pKnown float64, correct bool) float64 {
	if correct {
		num := pKnown * (1 - b.p.Slip)
		den := num + (1-pKnown)*b.p.Guess
		if den > 0 {
			return clamp01(num / den)
		}
		return pKnown
	}
	num := pKnown * b.p.Slip
	den := num + (1-pKnown)*(1-b.p.Guess)
	if den > 0 {
		return clamp01(num / den)
	}
	return pKnown
}

// learn applies the learning transition scaled by credit.
func (b *BKT) learn(p, credit float64) float64 {
	return p + (1-p)*b.p.Learn*clamp01(credit)
}
