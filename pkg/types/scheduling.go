// Package types defines the shared model types for the Revise review
// scheduling core: per-item scheduling state, per-concept mastery state,
// review sessions, the append-only review event log, and aggregate
// learning statistics.
package types

import "time"

// ReviewState is the lifecycle state of an item's memory schedule.
type ReviewState string

const (
	// ReviewStateNew marks an item that has never been reviewed.
	ReviewStateNew ReviewState = "new"
	// ReviewStateLearning marks an item in its initial learning steps.
	ReviewStateLearning ReviewState = "learning"
	// ReviewStateReview marks an item that has graduated to long-term review.
	ReviewStateReview ReviewState = "review"
	// ReviewStateRelearning marks an item that lapsed and is being relearned.
	ReviewStateRelearning ReviewState = "relearning"
)

// ValidReviewStates contains all valid review state values.
var ValidReviewStates = []ReviewState{
	ReviewStateNew,
	ReviewStateLearning,
	ReviewStateReview,
	ReviewStateRelearning,
}

// IsValidReviewState checks whether the given state is a known review state.
func IsValidReviewState(s ReviewState) bool {
	for _, valid := range ValidReviewStates {
		if s == valid {
			return true
		}
	}
	return false
}

// Grade is the learner's self-reported recall quality for one review.
type Grade int

const (
	GradeForgot Grade = 1 // Could not recall the answer
	GradeHard   Grade = 2 // Recalled with significant effort
	GradeGood   Grade = 3 // Recalled after some hesitation
	GradeEasy   Grade = 4 // Recalled immediately
)

// IsValid reports whether g is in the valid 1..4 range.
func (g Grade) IsValid() bool {
	return g >= GradeForgot && g <= GradeEasy
}

// Correct reports whether the grade counts as a correct recall.
// Grades 3 (good) and 4 (easy) are correct; 1 and 2 are not.
func (g Grade) Correct() bool {
	return g >= GradeGood
}

// String returns the human-readable name of the grade.
func (g Grade) String() string {
	switch g {
	case GradeForgot:
		return "forgot"
	case GradeHard:
		return "hard"
	case GradeGood:
		return "good"
	case GradeEasy:
		return "easy"
	default:
		return "invalid"
	}
}

// SchedulingState holds the memory-model state for one reviewable item.
// It is created lazily on the item's first review and never deleted.
// Only the memory model mutates it.
type SchedulingState struct {
	ItemID string `json:"item_id"` // Opaque identifier of the reviewable item

	// Memory model variables
	Stability  float64 `json:"stability"`  // Expected memory lifetime in days (always > 0)
	Difficulty float64 `json:"difficulty"` // Intrinsic difficulty in [1, 10]; higher = harder to stabilise

	// Review history counters
	Repetitions int `json:"repetitions"` // Successful reviews (grade >= 3) since the last lapse
	Lapses      int `json:"lapses"`      // Total grade-1 outcomes, ever

	ReviewState ReviewState `json:"review_state"` // new, learning, review, relearning

	// DueAt is nil for never-reviewed items, which are immediately due.
	// When set it is always >= LastReviewedAt.
	DueAt          *time.Time `json:"due_at,omitempty"`
	LastReviewedAt *time.Time `json:"last_reviewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue reports whether the item is eligible for review at the given time.
// A nil DueAt means the item has never been reviewed and is immediately due.
func (s *SchedulingState) IsDue(now time.Time) bool {
	return s.DueAt == nil || !s.DueAt.After(now)
}

// Clone returns a deep copy of the state. Pointer fields are copied by value.
func (s *SchedulingState) Clone() *SchedulingState {
	out := *s
	if s.DueAt != nil {
		v := *s.DueAt
		out.DueAt = &v
	}
	if s.LastReviewedAt != nil {
		v := *s.LastReviewedAt
		out.LastReviewedAt = &v
	}
	return &out
}
