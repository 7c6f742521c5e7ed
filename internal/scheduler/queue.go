package scheduler

import (
	"sort"
	"time"

	"github.com/revisehq/revise/pkg/types"
)

// QueueEntry is one due item selected by the queue builder. State is nil
// for items that have never been reviewed (no scheduling state exists yet).
type QueueEntry struct {
	ItemID string
	State  *types.SchedulingState
}

// BuildQueue selects the items due for review at the given time and
// returns them in review order. An item is due when it has no scheduling
// state yet, or when its state reports due (DueAt nil or <= now).
//
// Ordering, most urgent first:
//  1. never-reviewed items
//  2. harder items (higher difficulty)
//  3. more overdue items (earlier DueAt)
// with the item id as the final tie-break, so two builds over unchanged
// inputs produce identical queues.
//
// BuildQueue is a pure filter + sort: no item is dropped or duplicated
// beyond the due check, and the inputs are not mutated.
func BuildQueue(itemIDs []string, states map[string]*types.SchedulingState, now time.Time) []QueueEntry {
	entries := make([]QueueEntry, 0, len(itemIDs))
	seen := make(map[string]bool, len(itemIDs))

	for _, id := range itemIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		st := states[id]
		if st == nil {
			entries = append(entries, QueueEntry{ItemID: id})
			continue
		}
		if st.IsDue(now) {
			entries = append(entries, QueueEntry{ItemID: id, State: st})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]

		aNew := a.State == nil || a.State.DueAt == nil
		bNew := b.State == nil || b.State.DueAt == nil
		if aNew != bNew {
			return aNew
		}
		if aNew && bNew {
			return a.ItemID < b.ItemID
		}

		if a.State.Difficulty != b.State.Difficulty {
			return a.State.Difficulty > b.State.Difficulty
		}
		if !a.State.DueAt.Equal(*b.State.DueAt) {
			return a.State.DueAt.Before(*b.State.DueAt)
		}
		return a.ItemID < b.ItemID
	})

	return entries
}

// DueCount returns how many of the given states are due at the given
// time, counting items without state as due.
func DueCount(itemIDs []string, states map[string]*types.SchedulingState, now time.Time) int {
	return len(BuildQueue(itemIDs, states, now))
}
