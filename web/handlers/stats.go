package handlers

import (
	"net/http"

	"github.com/revisehq/revise/internal/storage"
)

// QueueDepthGetter exposes the live tracking-queue metrics.
type QueueDepthGetter interface {
	QueueDepth() int
	BreakerState() string
}

// StatsHandler handles the lifetime statistics endpoint.
type StatsHandler struct {
	stats       storage.StatsStore
	queueGetter QueueDepthGetter
}

// NewStatsHandler creates a new StatsHandler instance. queueGetter may
// be nil when no tracker is wired (e.g. read-only deployments).
func NewStatsHandler(stats storage.StatsStore, queueGetter QueueDepthGetter) *StatsHandler {
	return &StatsHandler{stats: stats, queueGetter: queueGetter}
}

// GetStats handles GET /api/stats - lifetime learner statistics plus
// live tracking-queue metrics.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetLearnerStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get learner stats", err)
		return
	}

	resp := StatsResponse{
		TotalReviews:     stats.TotalReviews,
		TotalTimeSeconds: stats.TotalTimeSeconds,
		TotalSessions:    stats.TotalSessions,
		LastStudyDate:    stats.LastStudyDate,
	}
	if h.queueGetter != nil {
		resp.QueueDepth = h.queueGetter.QueueDepth()
		resp.BreakerState = h.queueGetter.BreakerState()
	}
	respondJSON(w, http.StatusOK, resp)
}
