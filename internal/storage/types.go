package storage

import "errors"

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// MasteryFilter narrows ListMasteryStates. The zero value matches all
// concepts.
type MasteryFilter struct {
	// ConceptID restricts the result to a single concept when non-empty.
	ConceptID string
}
