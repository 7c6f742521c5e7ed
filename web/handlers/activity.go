package handlers

import (
	"net/http"

	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/pkg/types"
)

// ActivityHandler handles the daily activity time-series endpoint.
type ActivityHandler struct {
	stats storage.StatsStore
}

// NewActivityHandler creates a new ActivityHandler instance.
func NewActivityHandler(stats storage.StatsStore) *ActivityHandler {
	return &ActivityHandler{stats: stats}
}

// ActivityResponse is the response format for GET /api/activity.
type ActivityResponse struct {
	Days     int                    `json:"days"`
	Activity []*types.DailyActivity `json:"activity"`
}

// GetActivity handles GET /api/activity?days=N - daily review activity,
// newest first. Defaults to 30 days, capped at 365.
func (h *ActivityHandler) GetActivity(w http.ResponseWriter, r *http.Request) {
	days := parseInt(r.URL.Query().Get("days"), 30)
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}

	activity, err := h.stats.ListDailyActivity(r.Context(), days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list daily activity", err)
		return
	}
	if activity == nil {
		activity = []*types.DailyActivity{}
	}

	respondJSON(w, http.StatusOK, ActivityResponse{Days: days, Activity: activity})
}
