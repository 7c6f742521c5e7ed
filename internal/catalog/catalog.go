// Package catalog defines the content-catalog collaborator consumed by the
// review core. The catalog owns the question/answer payload of reviewable
// items; the core only ever reads from it.
package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/revisehq/revise/pkg/types"
)

// ErrNotFound indicates that the requested item does not exist in the
// catalog.
var ErrNotFound = errors.New("item not found")

// Catalog supplies item content for the review core. Implementations must
// be safe for concurrent use: the orchestrator fetches item content in
// parallel while loading the due queue.
type Catalog interface {
	// ListActiveItemIDs returns the ids of all active items. Inactive or
	// soft-deleted items are never offered for review.
	ListActiveItemIDs(ctx context.Context) ([]string, error)

	// GetItem returns the full content of one item.
	// Returns ErrNotFound for unknown ids.
	GetItem(ctx context.Context, id string) (*types.Item, error)
}

// Static is an in-memory catalog. It backs tests and small fixed decks.
type Static struct {
	mu    sync.RWMutex
	items map[string]*types.Item
	order []string
}

// NewStatic creates an in-memory catalog holding the given items.
func NewStatic(items ...*types.Item) *Static {
	s := &Static{items: make(map[string]*types.Item, len(items))}
	for _, it := range items {
		if _, exists := s.items[it.ID]; !exists {
			s.order = append(s.order, it.ID)
		}
		s.items[it.ID] = it
	}
	return s
}

// ListActiveItemIDs returns the ids of active items in insertion order.
func (s *Static) ListActiveItemIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if s.items[id].Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// GetItem returns the item with the given id, or ErrNotFound.
func (s *Static) GetItem(ctx context.Context, id string) (*types.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return it, nil
}
