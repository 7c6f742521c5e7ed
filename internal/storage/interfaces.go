// Package storage defines the persistence contract consumed by the review
// scheduling core.
//
// The contract is split into small interfaces so backends can be composed
// and callers depend only on what they use. All write operations are
// upserts and therefore idempotent under retry; the background tracker
// relies on this when it re-issues failed writes.
package storage

import (
	"context"

	"github.com/revisehq/revise/pkg/types"
)

// SchedulingStore persists per-item memory-model state.
type SchedulingStore interface {
	// ListSchedulingStates returns all scheduling states for the learner.
	ListSchedulingStates(ctx context.Context) ([]*types.SchedulingState, error)

	// GetSchedulingState returns the state for one item.
	// Returns ErrNotFound if the item has never been reviewed.
	GetSchedulingState(ctx context.Context, itemID string) (*types.SchedulingState, error)

	// UpsertSchedulingState creates or replaces the state for an item,
	// keyed by item id.
	UpsertSchedulingState(ctx context.Context, st *types.SchedulingState) error
}

// MasteryStore persists per-concept mastery state.
type MasteryStore interface {
	// ListMasteryStates returns mastery states, optionally filtered.
	ListMasteryStates(ctx context.Context, filter MasteryFilter) ([]*types.MasteryState, error)

	// GetMasteryState returns the state for one concept.
	// Returns ErrNotFound if the concept has never been attempted.
	GetMasteryState(ctx context.Context, conceptID string) (*types.MasteryState, error)

	// UpsertMasteryState creates or replaces the state for a concept,
	// keyed by concept id.
	UpsertMasteryState(ctx context.Context, st *types.MasteryState) error
}

// SessionStore persists review sessions and the append-only event log.
type SessionStore interface {
	// UpsertSession creates or replaces a session record, keyed by id.
	// The orchestrator writes a session exactly once, at close; abandoned
	// sessions are never written.
	UpsertSession(ctx context.Context, s *types.ReviewSession) error

	// GetSession returns one session by id. Returns ErrNotFound if absent.
	GetSession(ctx context.Context, id string) (*types.ReviewSession, error)

	// AppendReviewEvent appends one grading action to the event log,
	// keyed by event id so a retried append stays idempotent.
	AppendReviewEvent(ctx context.Context, ev *types.ReviewEvent) error

	// ListSessionEvents returns all events for a session in append order.
	ListSessionEvents(ctx context.Context, sessionID string) ([]*types.ReviewEvent, error)
}

// StatsStore persists daily and lifetime aggregates. Both upserts
// recompute their aggregates from the event and session tables rather
// than applying deltas, so retries and overlapping writers converge on
// the same values.
type StatsStore interface {
	// UpsertDailyActivity recomputes and stores the aggregate row for the
	// given date (YYYY-MM-DD, UTC) and returns it.
	UpsertDailyActivity(ctx context.Context, date string) (*types.DailyActivity, error)

	// ListDailyActivity returns the most recent activity rows, newest
	// first, capped at the given count.
	ListDailyActivity(ctx context.Context, days int) ([]*types.DailyActivity, error)

	// UpsertLearnerStats recomputes and stores the lifetime aggregates
	// and returns them.
	UpsertLearnerStats(ctx context.Context) (*types.LearnerStats, error)

	// GetLearnerStats returns the lifetime aggregates. Returns a zero
	// value (not ErrNotFound) before the first upsert.
	GetLearnerStats(ctx context.Context) (*types.LearnerStats, error)
}

// ReviewStore is the full persistence surface consumed by the review core.
type ReviewStore interface {
	SchedulingStore
	MasteryStore
	SessionStore
	StatsStore

	// Close releases any resources held by the store.
	Close() error
}
