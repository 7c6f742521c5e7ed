package scheduler

import (
	"math"

	"github.com/revisehq/revise/pkg/types"
)

// BKTParams holds the Bayesian Knowledge Tracing parameters for one item
// type. All probabilities are in [0, 1].
type BKTParams struct {
	PInit    float64 // Prior probability of mastery before any attempt
	PTransit float64 // Probability of learning the concept between attempts
	PSlip    float64 // Probability of answering incorrectly despite knowing
	PGuess   float64 // Probability of answering correctly despite not knowing
}

// DefaultBKTParams returns the default per-item-type parameter table.
// Quiz items carry a higher guess probability than flashcards: a
// multiple-choice answer is much easier to hit by chance than free recall.
func DefaultBKTParams() map[types.ItemType]BKTParams {
	return map[types.ItemType]BKTParams{
		types.ItemTypeFlashcard: {PInit: 0.2, PTransit: 0.15, PSlip: 0.1, PGuess: 0.1},
		types.ItemTypeQuiz:      {PInit: 0.2, PTransit: 0.15, PSlip: 0.1, PGuess: 0.25},
	}
}

// BKT is the per-concept mastery estimator. Parameters are looked up by
// item type, with a flashcard fallback for unknown types.
type BKT struct {
	params   map[types.ItemType]BKTParams
	fallback BKTParams
}

// NewBKT creates a mastery estimator with the given parameter table.
// A nil table selects DefaultBKTParams.
func NewBKT(params map[types.ItemType]BKTParams) *BKT {
	if params == nil {
		params = DefaultBKTParams()
	}
	fallback, ok := params[types.ItemTypeFlashcard]
	if !ok {
		fallback = DefaultBKTParams()[types.ItemTypeFlashcard]
	}
	return &BKT{params: params, fallback: fallback}
}

// ParamsFor returns the parameter set for the given item type.
func (b *BKT) ParamsFor(itemType types.ItemType) BKTParams {
	if p, ok := b.params[itemType]; ok {
		return p
	}
	return b.fallback
}

// Update applies one observed attempt to the mastery probability and
// returns the new value, always in [0, 1].
//
// Two-step Bayesian update: first the evidence step conditions pKnow on
// the observed correctness using the slip and guess probabilities, then
// the transit step blends the posterior toward 1 by the learning
// probability.
func (b *BKT) Update(pKnow float64, isCorrect bool, itemType types.ItemType) float64 {
	p := b.ParamsFor(itemType)
	prior := clampProbability(pKnow)

	var numerator, denominator float64
	if isCorrect {
		numerator = prior * (1 - p.PSlip)
		denominator = numerator + (1-prior)*p.PGuess
	} else {
		numerator = prior * p.PSlip
		denominator = numerator + (1-prior)*(1-p.PGuess)
	}

	// A zero denominator means the observation was impossible under the
	// model (e.g. guess=0 and the learner guessed right). Keep the prior
	// instead of dividing into NaN.
	posterior := prior
	if denominator > 0 {
		posterior = numerator / denominator
	}

	return clampProbability(posterior + (1-posterior)*p.PTransit)
}

func clampProbability(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return math.Min(math.Max(p, 0), 1)
}
