package types

import "time"

// Item is the question/answer payload of one reviewable unit, supplied by
// the content catalog. The scheduling core treats it as opaque content plus
// an identifier and an optional concept tag.
type Item struct {
	ID        string   `json:"id"`
	Front     string   `json:"front"`                // Question side
	Back      string   `json:"back"`                 // Answer side
	ItemType  ItemType `json:"item_type"`            // flashcard, quiz
	ConceptID string   `json:"concept_id,omitempty"` // Empty when the item carries no concept tag
	Active    bool     `json:"active"`               // Inactive items are excluded from review queues

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReviewQueueItem joins one scheduling state with its item content.
// It is derived per session and never persisted. State is nil for items
// that have never been reviewed.
type ReviewQueueItem struct {
	Item  *Item            `json:"item"`
	State *SchedulingState `json:"state,omitempty"`
}
