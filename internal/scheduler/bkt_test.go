package scheduler

import (
	"math"
	"testing"

	"github.com/revisehq/revise/pkg/types"
)

func TestBKTUpdate_CorrectIncreases(t *testing.T) {
	b := NewBKT(nil)

	p := 0.3
	next := b.Update(p, true, types.ItemTypeFlashcard)
	if next <= p {
		t.Errorf("correct answer should increase mastery: %f -> %f", p, next)
	}
}

func TestBKTUpdate_IncorrectDecreasesEvidence(t *testing.T) {
	b := NewBKT(nil)

	// The evidence step pulls mastery down on an incorrect answer. The
	// transit step adds a bounded amount back, so the result must stay
	// well below a correct-answer update from the same prior.
	p := 0.6
	afterWrong := b.Update(p, false, types.ItemTypeFlashcard)
	afterRight := b.Update(p, true, types.ItemTypeFlashcard)
	if afterWrong >= afterRight {
		t.Errorf("incorrect update %f should be below correct update %f", afterWrong, afterRight)
	}
}

func TestBKTUpdate_AlwaysInUnitInterval(t *testing.T) {
	b := NewBKT(map[types.ItemType]BKTParams{
		types.ItemTypeFlashcard: {PInit: 0.0, PTransit: 1.0, PSlip: 1.0, PGuess: 0.0},
		types.ItemTypeQuiz:      {PInit: 1.0, PTransit: 0.0, PSlip: 0.0, PGuess: 1.0},
	})

	for _, itemType := range []types.ItemType{types.ItemTypeFlashcard, types.ItemTypeQuiz} {
		for _, correct := range []bool{true, false} {
			for p := 0.0; p <= 1.0; p += 0.1 {
				got := b.Update(p, correct, itemType)
				if math.IsNaN(got) || got < 0 || got > 1 {
					t.Fatalf("Update(%f, %v, %s) = %f, out of [0,1]", p, correct, itemType, got)
				}
			}
		}
	}
}

func TestBKTUpdate_OutOfRangeInputClamped(t *testing.T) {
	b := NewBKT(nil)

	for _, p := range []float64{-0.5, 1.5, math.NaN()} {
		got := b.Update(p, true, types.ItemTypeFlashcard)
		if math.IsNaN(got) || got < 0 || got > 1 {
			t.Errorf("Update(%f) = %f, out of [0,1]", p, got)
		}
	}
}

func TestBKTUpdate_ConvergesUpward(t *testing.T) {
	b := NewBKT(nil)

	// A long run of correct answers must approach 1 without oscillating.
	p := 0.2
	for i := 0; i < 50; i++ {
		next := b.Update(p, true, types.ItemTypeFlashcard)
		if next < p {
			t.Fatalf("mastery oscillated at step %d: %f -> %f", i, p, next)
		}
		p = next
	}
	if p < 0.99 {
		t.Errorf("mastery should converge toward 1, got %f", p)
	}
}

func TestBKTUpdate_ItemTypeSelectsParameters(t *testing.T) {
	b := NewBKT(nil)

	// A correct quiz answer is weaker evidence than a correct flashcard
	// answer because quizzes are easier to guess.
	p := 0.3
	flash := b.Update(p, true, types.ItemTypeFlashcard)
	quiz := b.Update(p, true, types.ItemTypeQuiz)
	if quiz >= flash {
		t.Errorf("quiz update %f should be below flashcard update %f", quiz, flash)
	}
}

func TestBKTParamsFor_UnknownTypeFallsBack(t *testing.T) {
	b := NewBKT(nil)

	got := b.ParamsFor(types.ItemType("cloze"))
	want := b.ParamsFor(types.ItemTypeFlashcard)
	if got != want {
		t.Errorf("unknown item type should fall back to flashcard params: got %+v want %+v", got, want)
	}
}

func TestBKTUpdate_ZeroDenominatorKeepsPrior(t *testing.T) {
	// guess=0 with pKnow=0 makes a correct observation impossible under
	// the model; the evidence step must not divide into NaN.
	b := NewBKT(map[types.ItemType]BKTParams{
		types.ItemTypeFlashcard: {PInit: 0, PTransit: 0.2, PSlip: 0, PGuess: 0},
	})

	got := b.Update(0, true, types.ItemTypeFlashcard)
	if math.IsNaN(got) {
		t.Fatal("Update produced NaN")
	}
	if got < 0 || got > 1 {
		t.Errorf("Update out of range: %f", got)
	}
}
