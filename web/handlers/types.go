package handlers

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	TotalReviews     int    `json:"total_reviews"`
	TotalTimeSeconds int    `json:"total_time_seconds"`
	TotalSessions    int    `json:"total_sessions"`
	LastStudyDate    string `json:"last_study_date,omitempty"`

	// Live tracking-queue metrics
	QueueDepth   int    `json:"queue_depth"`
	BreakerState string `json:"breaker_state,omitempty"`
}

// GradeRequest is the request format for POST /api/session/grade.
type GradeRequest struct {
	Grade          int  `json:"grade"`
	ResponseTimeMs *int `json:"response_time_ms,omitempty"`
}

// StartResponse is the response format for POST /api/session/start.
type StartResponse struct {
	SessionID string `json:"session_id"`
}
