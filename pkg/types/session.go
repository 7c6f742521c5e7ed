package types

import "time"

// ReviewSession is one sitting of reviews. It is created in memory when the
// learner starts reviewing and persisted exactly once, at close; an
// abandoned session is never written. Immutable after close.
type ReviewSession struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TotalReviews    int        `json:"total_reviews"`   // Grading actions, including requeued repeats
	CorrectReviews  int        `json:"correct_reviews"` // Grading actions with grade >= 3
	DurationSeconds int        `json:"duration_seconds"`
}

// ReviewEvent is one entry in the append-only review log: a single grading
// action. Requeued repeats of the same item produce separate events.
type ReviewEvent struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ItemID         string    `json:"item_id"`
	ItemType       ItemType  `json:"item_type"`
	Grade          Grade     `json:"grade"`
	ResponseTimeMs *int      `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
