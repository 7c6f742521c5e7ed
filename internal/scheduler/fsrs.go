// Package scheduler implements the pure learning models behind Revise:
// an FSRS-style memory scheduler that maps (scheduling state, grade) to
// (new state, next due time), a Bayesian Knowledge Tracing mastery
// estimator, and the due-queue builder.
//
// Everything in this package is deterministic and free of I/O.
package scheduler

import (
	"fmt"
	"math"
	"time"

	"github.com/revisehq/revise/pkg/types"
)

// DefaultWeights are the default FSRS model weights. w[0]..w[3] are the
// initial stabilities for grades 1..4; the remainder parameterise the
// difficulty and stability update curves. Tunable via Params.
var DefaultWeights = [19]float64{
	0.4072, 1.1829, 3.1262, 15.4722, 7.2102,
	0.5316, 1.0651, 0.0234, 1.616, 0.1544,
	1.0824, 1.9813, 0.0953, 0.2975, 2.2042,
	0.2407, 2.9466, 0.5034, 0.6567,
}

const (
	// retrievabilityDecay and intervalFactor define the forgetting curve
	// R(t, S) = (1 + intervalFactor * t/S) ^ retrievabilityDecay. With this
	// factor, an item's interval at 90% desired retention equals its
	// stability in days.
	retrievabilityDecay = -0.5
	intervalFactor      = 19.0 / 81.0

	minDifficulty = 1.0
	maxDifficulty = 10.0
)

// Params configures the memory model. The zero value of any field is
// replaced with its default by NewFSRS.
type Params struct {
	// Weights are the model weights; the zero array selects DefaultWeights.
	Weights [19]float64

	// DesiredRetention is the recall probability the scheduler aims for at
	// the moment an item comes due. Default 0.9.
	DesiredRetention float64

	// MaximumIntervalDays caps the scheduling interval. Default 365.
	MaximumIntervalDays int

	// MinStability is the floor applied to every stability update so a
	// lapse can never drive stability to zero. Default 0.01.
	MinStability float64

	// RelearningStep is the interval scheduled after a lapse, before the
	// item graduates back to interval-based review. Default 10 minutes.
	RelearningStep time.Duration
}

// DefaultParams returns the default memory model configuration.
func DefaultParams() Params {
	return Params{
		Weights:             DefaultWeights,
		DesiredRetention:    0.9,
		MaximumIntervalDays: 365,
		MinStability:        0.01,
		RelearningStep:      10 * time.Minute,
	}
}

// FSRS is the memory model. It is safe for concurrent use; all state lives
// in the SchedulingState values passed through Advance.
type FSRS struct {
	p Params
}

// NewFSRS creates a memory model from the given params. Zero-value fields
// are filled with defaults; out-of-range values return an error.
func NewFSRS(p Params) (*FSRS, error) {
	if p.Weights == ([19]float64{}) {
		p.Weights = DefaultWeights
	}
	if p.DesiredRetention == 0 {
		p.DesiredRetention = 0.9
	}
	if p.DesiredRetention < 0 || p.DesiredRetention > 1 {
		return nil, fmt.Errorf("scheduler: desired retention %f out of range (0, 1]", p.DesiredRetention)
	}
	if p.MaximumIntervalDays == 0 {
		p.MaximumIntervalDays = 365
	}
	if p.MaximumIntervalDays < 0 {
		return nil, fmt.Errorf("scheduler: maximum interval %d must be positive", p.MaximumIntervalDays)
	}
	if p.MinStability == 0 {
		p.MinStability = 0.01
	}
	if p.MinStability < 0 {
		return nil, fmt.Errorf("scheduler: minimum stability %f must be positive", p.MinStability)
	}
	if p.RelearningStep == 0 {
		p.RelearningStep = 10 * time.Minute
	}
	if p.RelearningStep < 0 {
		return nil, fmt.Errorf("scheduler: relearning step %v must be positive", p.RelearningStep)
	}
	return &FSRS{p: p}, nil
}

// NewState returns the scheduling state for an item that has never been
// reviewed. DueAt is nil, so the item is immediately due.
func (f *FSRS) NewState(itemID string) *types.SchedulingState {
	return &types.SchedulingState{
		ItemID:      itemID,
		ReviewState: types.ReviewStateNew,
	}
}

// Advance applies one graded review to the given state and returns the new
// state plus the next due time. The input state is not mutated. Advance is
// pure: the same (state, grade, now) always produces the same result.
//
// An invalid grade is a programming error and panics.
func (f *FSRS) Advance(prior *types.SchedulingState, grade types.Grade, now time.Time) (*types.SchedulingState, time.Time) {
	if !grade.IsValid() {
		panic(fmt.Sprintf("scheduler: invalid grade %d", grade))
	}

	st := prior.Clone()
	firstReview := st.ReviewState == types.ReviewStateNew || st.Stability == 0

	if firstReview {
		st.Stability = f.clampStability(f.p.Weights[grade-1])
		st.Difficulty = clampDifficulty(f.initDifficulty(grade))
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
	} else {
		var elapsedDays float64
		if st.LastReviewedAt != nil {
			elapsedDays = now.Sub(*st.LastReviewedAt).Hours() / 24.0
		}
		r := f.retrievability(elapsedDays, st.Stability)

		switch {
		case grade == types.GradeForgot:
			st.Stability = f.clampStability(f.forgetStability(st.Difficulty, st.Stability, r))
		case elapsedDays < 1:
			st.Stability = f.clampStability(f.shortTermStability(st.Stability, grade))
		default:
			st.Stability = f.clampStability(f.recallStability(st.Difficulty, st.Stability, r, grade))
		}
		st.Difficulty = f.nextDifficulty(st.Difficulty, grade)
	}

	var due time.Time
	if grade == types.GradeForgot {
		st.Lapses++
		st.Repetitions = 0
		if firstReview {
			// Never-known material is still being learned, not relearned.
			st.ReviewState = types.ReviewStateLearning
		} else {
			st.ReviewState = types.ReviewStateRelearning
		}
		due = now.Add(f.p.RelearningStep)
	} else {
		st.Repetitions++
		st.ReviewState = types.ReviewStateReview
		days := f.nextIntervalDays(st.Stability)
		due = now.Add(time.Duration(days) * 24 * time.Hour)
	}

	reviewedAt := now
	st.LastReviewedAt = &reviewedAt
	st.DueAt = &due
	st.UpdatedAt = now

	return st, due
}

// Retrievability returns the current probability of recall for the item,
// or 0 if it has never been reviewed.
func (f *FSRS) Retrievability(st *types.SchedulingState, now time.Time) float64 {
	if st == nil || st.LastReviewedAt == nil || st.Stability == 0 {
		return 0
	}
	elapsedDays := now.Sub(*st.LastReviewedAt).Hours() / 24.0
	return f.retrievability(elapsedDays, st.Stability)
}

// Preview returns the due time each grade would produce for the given
// state, without mutating anything. Used for the interval hints shown on
// grading buttons.
func (f *FSRS) Preview(st *types.SchedulingState, now time.Time) map[types.Grade]time.Time {
	out := make(map[types.Grade]time.Time, 4)
	for _, g := range []types.Grade{types.GradeForgot, types.GradeHard, types.GradeGood, types.GradeEasy} {
		_, due := f.Advance(st, g, now)
		out[g] = due
	}
	return out
}

// retrievability computes R(t, S).
func (f *FSRS) retrievability(elapsedDays, stability float64) float64 {
	if elapsedDays < 0 {
		elapsedDays = 0
	}
	return math.Pow(1+intervalFactor*elapsedDays/stability, retrievabilityDecay)
}

// initDifficulty computes D0(G) = w[4] - e^(w[5]*(G-1)) + 1.
func (f *FSRS) initDifficulty(grade types.Grade) float64 {
	return f.p.Weights[4] - math.Exp(f.p.Weights[5]*float64(grade-1)) + 1
}

// nextDifficulty drifts difficulty up on hard grades and down on easy
// grades, with linear damping and mean reversion toward the easy-grade
// initial difficulty. Always clamped to [1, 10].
func (f *FSRS) nextDifficulty(difficulty float64, grade types.Grade) float64 {
	deltaD := -f.p.Weights[6] * (float64(grade) - 3)
	damped := difficulty + (maxDifficulty-difficulty)*deltaD/9
	reverted := f.p.Weights[7]*f.initDifficulty(types.GradeEasy) + (1-f.p.Weights[7])*damped
	return clampDifficulty(reverted)
}

// recallStability grows stability after a successful cross-day recall.
// The growth factor is >= 1, increases with the grade (hard penalty, easy
// bonus) and decreases with difficulty via the (11 - D) term, giving
// diminishing returns on already-easy items.
func (f *FSRS) recallStability(d, s, r float64, grade types.Grade) float64 {
	hardPenalty := 1.0
	if grade == types.GradeHard {
		hardPenalty = f.p.Weights[15]
	}
	easyBonus := 1.0
	if grade == types.GradeEasy {
		easyBonus = f.p.Weights[16]
	}
	return s * (1 + math.Exp(f.p.Weights[8])*
		(11-d)*
		math.Pow(s, -f.p.Weights[9])*
		(math.Exp((1-r)*f.p.Weights[10])-1)*
		hardPenalty*easyBonus)
}

// shortTermStability handles successful same-day reviews. The multiplier
// is floored at 1 so repeated same-day success never shrinks stability.
func (f *FSRS) shortTermStability(s float64, grade types.Grade) float64 {
	inc := math.Exp(f.p.Weights[17] * (float64(grade) - 3 + f.p.Weights[18]))
	if inc < 1 {
		inc = 1
	}
	return s * inc
}

// forgetStability computes post-lapse stability as the minimum of the
// long-term forget curve and a fraction of the current stability.
func (f *FSRS) forgetStability(d, s, r float64) float64 {
	long := f.p.Weights[11] *
		math.Pow(d, -f.p.Weights[12]) *
		(math.Pow(s+1, f.p.Weights[13]) - 1) *
		math.Exp((1-r)*f.p.Weights[14])
	short := s / math.Exp(f.p.Weights[17]*f.p.Weights[18])
	return math.Min(long, short)
}

// nextIntervalDays converts stability to a scheduling interval in whole
// days, clamped to [1, MaximumIntervalDays].
func (f *FSRS) nextIntervalDays(stability float64) int {
	ivl := stability / intervalFactor * (math.Pow(f.p.DesiredRetention, 1.0/retrievabilityDecay) - 1)
	days := int(math.Round(ivl))
	if days < 1 {
		days = 1
	}
	if days > f.p.MaximumIntervalDays {
		days = f.p.MaximumIntervalDays
	}
	return days
}

func (f *FSRS) clampStability(s float64) float64 {
	return math.Max(s, f.p.MinStability)
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, minDifficulty), maxDifficulty)
}
