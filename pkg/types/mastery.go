package types

import "time"

// ItemType classifies how an item is presented to the learner. Different
// item types carry different guess/slip probabilities in the mastery model
// (a four-option quiz is far easier to guess than a free-recall flashcard).
type ItemType string

const (
	ItemTypeFlashcard ItemType = "flashcard"
	ItemTypeQuiz      ItemType = "quiz"
)

// MasteryState holds the Bayesian Knowledge Tracing state for one concept.
// It is created on the first graded item carrying the concept tag and never
// deleted. Only the mastery model mutates PKnow.
type MasteryState struct {
	ConceptID string `json:"concept_id"`

	// PKnow is the probability the learner has mastered the concept, in [0, 1].
	PKnow float64 `json:"p_know"`

	// Model parameters, all in [0, 1]. Fixed at creation from configuration;
	// kept on the record so the parameters that produced PKnow are auditable.
	PTransit float64 `json:"p_transit"` // P(learning the concept between attempts)
	PSlip    float64 `json:"p_slip"`    // P(incorrect answer despite knowing)
	PGuess   float64 `json:"p_guess"`   // P(correct answer despite not knowing)

	TotalAttempts   int        `json:"total_attempts"`
	CorrectAttempts int        `json:"correct_attempts"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Accuracy returns the observed fraction of correct attempts, or 0 when the
// concept has never been attempted.
func (m *MasteryState) Accuracy() float64 {
	if m.TotalAttempts == 0 {
		return 0
	}
	return float64(m.CorrectAttempts) / float64(m.TotalAttempts)
}

// Clone returns a deep copy of the state.
func (m *MasteryState) Clone() *MasteryState {
	out := *m
	if m.LastAttemptAt != nil {
		v := *m.LastAttemptAt
		out.LastAttemptAt = &v
	}
	return &out
}
