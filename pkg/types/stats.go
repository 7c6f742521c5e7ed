package types

// DateFormat is the canonical YYYY-MM-DD layout for activity dates.
const DateFormat = "2006-01-02"

// DailyActivity is the same-day aggregate of review activity. One row per
// calendar day, recomputed from the event and session tables on upsert so
// retries are idempotent.
type DailyActivity struct {
	Date             string `json:"date"` // YYYY-MM-DD
	ReviewsCount     int    `json:"reviews_count"`
	CorrectCount     int    `json:"correct_count"`
	TimeSpentSeconds int    `json:"time_spent_seconds"`
	SessionsCount    int    `json:"sessions_count"`
}

// LearnerStats is the lifetime aggregate for the learner. A single row,
// recomputed from the underlying tables on upsert.
type LearnerStats struct {
	TotalReviews     int    `json:"total_reviews"`
	TotalTimeSeconds int    `json:"total_time_seconds"`
	TotalSessions    int    `json:"total_sessions"`
	LastStudyDate    string `json:"last_study_date,omitempty"` // YYYY-MM-DD, empty before first review
}
