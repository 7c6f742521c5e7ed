package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/revisehq/revise/internal/session"
	"github.com/revisehq/revise/pkg/types"
)

// ReviewHandlers contains the HTTP handlers for the review session
// lifecycle. Every grading surface funnels into PostGrade, which is the
// orchestrator's single grading entry point.
type ReviewHandlers struct {
	orchestrator *session.Orchestrator
	hub          *WebSocketHub
}

// NewReviewHandlers creates a new ReviewHandlers instance. hub may be
// nil, in which case no progress events are broadcast.
func NewReviewHandlers(orchestrator *session.Orchestrator, hub *WebSocketHub) *ReviewHandlers {
	return &ReviewHandlers{orchestrator: orchestrator, hub: hub}
}

// sessionEvent is the WebSocket payload emitted on session progress.
type sessionEvent struct {
	Type     string           `json:"type"`
	Snapshot session.Snapshot `json:"snapshot"`
}

func (h *ReviewHandlers) broadcast(eventType string) {
	if h.hub == nil {
		return
	}
	h.hub.Broadcast(sessionEvent{Type: eventType, Snapshot: h.orchestrator.Snapshot()})
}

// GetSession handles GET /api/session - return the current session snapshot.
func (h *ReviewHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.orchestrator.Snapshot())
}

// PostLoad handles POST /api/session/load - build (or rebuild) the due queue.
func (h *ReviewHandlers) PostLoad(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Load(r.Context()); err != nil {
		// The load error is retryable and already captured in the
		// snapshot; the client re-renders from it.
		h.broadcast("queue_load_failed")
		respondError(w, http.StatusBadGateway, "failed to load review queue", err)
		return
	}
	h.broadcast("queue_loaded")
	respondJSON(w, http.StatusOK, h.orchestrator.Snapshot())
}

// PostStart handles POST /api/session/start - begin a review session.
func (h *ReviewHandlers) PostStart(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.orchestrator.Start()
	if err != nil {
		if errors.Is(err, session.ErrNoDueItems) {
			respondError(w, http.StatusConflict, "no items due for review", err)
			return
		}
		respondError(w, http.StatusConflict, "cannot start session", err)
		return
	}
	h.broadcast("session_started")
	respondJSON(w, http.StatusCreated, StartResponse{SessionID: sessionID})
}

// PostReveal handles POST /api/session/reveal - show the answer side of
// the current item.
func (h *ReviewHandlers) PostReveal(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Reveal(); err != nil {
		respondError(w, http.StatusConflict, "cannot reveal answer", err)
		return
	}
	respondJSON(w, http.StatusOK, h.orchestrator.Snapshot())
}

// PostGrade handles POST /api/session/grade - grade the current item.
func (h *ReviewHandlers) PostGrade(w http.ResponseWriter, r *http.Request) {
	var req GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse request body", err)
		return
	}

	grade := types.Grade(req.Grade)
	if !grade.IsValid() {
		respondError(w, http.StatusBadRequest, "grade must be between 1 and 4", nil)
		return
	}

	if err := h.orchestrator.Grade(r.Context(), grade, req.ResponseTimeMs); err != nil {
		respondError(w, http.StatusConflict, "cannot grade item", err)
		return
	}

	snap := h.orchestrator.Snapshot()
	if snap.Phase == session.PhaseFinished {
		h.broadcast("session_finished")
	} else {
		h.broadcast("item_graded")
	}
	respondJSON(w, http.StatusOK, snap)
}

// PostAbandon handles POST /api/session/abandon - discard the running
// session without persisting it.
func (h *ReviewHandlers) PostAbandon(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Abandon(); err != nil {
		respondError(w, http.StatusConflict, "cannot abandon session", err)
		return
	}
	h.broadcast("session_abandoned")
	respondJSON(w, http.StatusOK, h.orchestrator.Snapshot())
}
