package handlers

import (
	"errors"
	"net/http"

	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/pkg/types"
)

// MasteryHandler handles the per-concept mastery endpoints.
type MasteryHandler struct {
	mastery storage.MasteryStore
}

// NewMasteryHandler creates a new MasteryHandler instance.
func NewMasteryHandler(mastery storage.MasteryStore) *MasteryHandler {
	return &MasteryHandler{mastery: mastery}
}

// MasterySummary is one concept's mastery state plus derived accuracy.
type MasterySummary struct {
	ConceptID       string  `json:"concept_id"`
	PKnow           float64 `json:"p_know"`
	TotalAttempts   int     `json:"total_attempts"`
	CorrectAttempts int     `json:"correct_attempts"`
	Accuracy        float64 `json:"accuracy"`
}

// MasteryResponse is the response format for GET /api/mastery.
type MasteryResponse struct {
	Concepts []MasterySummary `json:"concepts"`
}

func summarize(ms *types.MasteryState) MasterySummary {
	return MasterySummary{
		ConceptID:       ms.ConceptID,
		PKnow:           ms.PKnow,
		TotalAttempts:   ms.TotalAttempts,
		CorrectAttempts: ms.CorrectAttempts,
		Accuracy:        ms.Accuracy(),
	}
}

// ListMastery handles GET /api/mastery?concept_id= - list mastery
// states, optionally filtered to one concept.
func (h *MasteryHandler) ListMastery(w http.ResponseWriter, r *http.Request) {
	filter := storage.MasteryFilter{ConceptID: r.URL.Query().Get("concept_id")}

	states, err := h.mastery.ListMasteryStates(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list mastery states", err)
		return
	}

	concepts := make([]MasterySummary, 0, len(states))
	for _, ms := range states {
		concepts = append(concepts, summarize(ms))
	}
	respondJSON(w, http.StatusOK, MasteryResponse{Concepts: concepts})
}

// GetMastery handles GET /api/mastery/{concept_id} - one concept's
// mastery state.
func (h *MasteryHandler) GetMastery(w http.ResponseWriter, r *http.Request) {
	conceptID := r.PathValue("concept_id")
	if conceptID == "" {
		respondError(w, http.StatusBadRequest, "concept id is required", nil)
		return
	}

	ms, err := h.mastery.GetMasteryState(r.Context(), conceptID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "concept not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get mastery state", err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(ms))
}
