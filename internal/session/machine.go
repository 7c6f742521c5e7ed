// Package session owns the review-session lifecycle: a finite state
// machine over the due queue, a background tracker for fire-and-forget
// persistence writes, and the orchestrator that ties both to storage.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/revisehq/revise/internal/scheduler"
	"github.com/revisehq/revise/pkg/types"
)

// Phase identifies where the session lifecycle currently is.
type Phase string

const (
	PhaseLoading   Phase = "loading"
	PhaseIdle      Phase = "idle"
	PhaseReviewing Phase = "reviewing"
	PhaseFinished  Phase = "finished"
)

// Guard errors. These mark invalid-state transitions; callers that hit
// them have a bug, not a recoverable condition.
var (
	ErrInvalidTransition = errors.New("session: event not valid in current phase")
	ErrNoDueItems        = errors.New("session: no due items to review")
	ErrNoCurrentItem     = errors.New("session: no current item")
	ErrAnswerNotRevealed = errors.New("session: answer not revealed yet")
)

// State is one snapshot of the machine. Transition never mutates its
// input; it returns a fresh State.
type State struct {
	Phase Phase

	// LoadErr is the load failure surfaced in Idle, nil otherwise.
	LoadErr error

	// Queue grows at the tail when a forgotten item is requeued.
	Queue  []*types.ReviewQueueItem
	Cursor int

	// Revealed is true once the answer side of the current item is shown.
	// Grading is only legal while Revealed is true, which also blocks a
	// second grade for the same queue position.
	Revealed bool

	Session *types.ReviewSession
}

// Current returns the queue item at the cursor, or nil when exhausted.
func (s *State) Current() *types.ReviewQueueItem {
	if s.Cursor < 0 || s.Cursor >= len(s.Queue) {
		return nil
	}
	return s.Queue[s.Cursor]
}

// Remaining returns the number of queue positions left, including the
// current one.
func (s *State) Remaining() int {
	if s.Cursor >= len(s.Queue) {
		return 0
	}
	return len(s.Queue) - s.Cursor
}

// DueCount returns the number of items loaded into the queue.
func (s *State) DueCount() int {
	return len(s.Queue)
}

func (s *State) clone() *State {
	out := *s
	out.Queue = make([]*types.ReviewQueueItem, len(s.Queue))
	copy(out.Queue, s.Queue)
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	return &out
}

// Events accepted by Transition.

type Event interface{ isEvent() }

// QueueLoaded carries the assembled due queue into Idle.
type QueueLoaded struct {
	Items []*types.ReviewQueueItem
}

// LoadFailed carries a queue-load error into Idle; the learner may retry.
type LoadFailed struct {
	Err error
}

// StartRequested begins a new session over the loaded queue.
type StartRequested struct {
	SessionID string
	Now       time.Time
}

// AnswerRevealed flips the current item to its answer side.
type AnswerRevealed struct{}

// GradeSubmitted records the learner's grade for the current item.
type GradeSubmitted struct {
	EventID        string
	Grade          types.Grade
	ResponseTimeMs *int
	Now            time.Time
}

// AbandonRequested discards the running session without persisting it.
type AbandonRequested struct{}

func (QueueLoaded) isEvent()      {}
func (LoadFailed) isEvent()       {}
func (StartRequested) isEvent()   {}
func (AnswerRevealed) isEvent()   {}
func (GradeSubmitted) isEvent()   {}
func (AbandonRequested) isEvent() {}

// Effects are the persistence writes a transition wants performed. The
// machine never touches storage itself; the orchestrator dispatches
// effects to the tracker after each transition.

type Effect interface{ isEffect() }

// AppendEvent appends one entry to the review log.
type AppendEvent struct {
	Event *types.ReviewEvent
}

// PersistScheduling upserts the post-grade scheduling state.
type PersistScheduling struct {
	State *types.SchedulingState
}

// PersistMastery upserts the post-grade mastery state.
type PersistMastery struct {
	State *types.MasteryState
}

// CloseSession writes the final session record.
type CloseSession struct {
	Session *types.ReviewSession
}

// RecomputeDailyActivity refreshes the aggregate row for one UTC date.
type RecomputeDailyActivity struct {
	Date string
}

// RecomputeLearnerStats refreshes the lifetime aggregates.
type RecomputeLearnerStats struct{}

func (AppendEvent) isEffect()            {}
func (PersistScheduling) isEffect()      {}
func (PersistMastery) isEffect()         {}
func (CloseSession) isEffect()           {}
func (RecomputeDailyActivity) isEffect() {}
func (RecomputeLearnerStats) isEffect()  {}

// Machine is the pure transition function plus the two models it
// dispatches grades to. It holds no mutable state of its own, so one
// Machine may serve many State values.
type Machine struct {
	fsrs *scheduler.FSRS
	bkt  *scheduler.BKT

	// mastery returns the current state for a concept, or nil when the
	// concept has never been attempted. Supplied by the orchestrator from
	// its preloaded snapshot.
	mastery func(conceptID string) *types.MasteryState
}

// NewMachine creates a machine over the given models. masteryLookup may
// be nil, in which case every concept starts from the configured prior.
func NewMachine(f *scheduler.FSRS, b *scheduler.BKT, masteryLookup func(conceptID string) *types.MasteryState) *Machine {
	return &Machine{fsrs: f, bkt: b, mastery: masteryLookup}
}

// NewLoadingState returns the machine's initial state.
func NewLoadingState() *State {
	return &State{Phase: PhaseLoading}
}

// Transition applies one event to the state and returns the successor
// state plus the side effects the caller must dispatch. The input state
// is never mutated. Events that are not legal in the current phase
// return ErrInvalidTransition or a more specific guard error.
func (m *Machine) Transition(st *State, ev Event) (*State, []Effect, error) {
	switch e := ev.(type) {
	case QueueLoaded:
		if st.Phase != PhaseLoading && st.Phase != PhaseIdle {
			return nil, nil, fmt.Errorf("%w: queue loaded in %s", ErrInvalidTransition, st.Phase)
		}
		next := st.clone()
		next.Phase = PhaseIdle
		next.LoadErr = nil
		next.Queue = append([]*types.ReviewQueueItem(nil), e.Items...)
		next.Cursor = 0
		next.Revealed = false
		next.Session = nil
		return next, nil, nil

	case LoadFailed:
		if st.Phase != PhaseLoading && st.Phase != PhaseIdle {
			return nil, nil, fmt.Errorf("%w: load failure in %s", ErrInvalidTransition, st.Phase)
		}
		next := st.clone()
		next.Phase = PhaseIdle
		next.LoadErr = e.Err
		next.Queue = nil
		next.Cursor = 0
		next.Session = nil
		return next, nil, nil

	case StartRequested:
		if st.Phase != PhaseIdle {
			return nil, nil, fmt.Errorf("%w: start requested in %s", ErrInvalidTransition, st.Phase)
		}
		if len(st.Queue) == 0 {
			return nil, nil, ErrNoDueItems
		}
		next := st.clone()
		next.Phase = PhaseReviewing
		next.Cursor = 0
		next.Revealed = false
		next.Session = &types.ReviewSession{
			ID:        e.SessionID,
			StartedAt: e.Now,
		}
		return next, nil, nil

	case AnswerRevealed:
		if st.Phase != PhaseReviewing {
			return nil, nil, fmt.Errorf("%w: reveal in %s", ErrInvalidTransition, st.Phase)
		}
		if st.Current() == nil {
			return nil, nil, ErrNoCurrentItem
		}
		next := st.clone()
		next.Revealed = true
		return next, nil, nil

	case GradeSubmitted:
		return m.applyGrade(st, e)

	case AbandonRequested:
		if st.Phase != PhaseReviewing {
			return nil, nil, fmt.Errorf("%w: abandon in %s", ErrInvalidTransition, st.Phase)
		}
		// No session record is written for an abandoned sitting. Tracking
		// writes already issued stay valid.
		next := st.clone()
		next.Phase = PhaseIdle
		next.Queue = nil
		next.Cursor = 0
		next.Revealed = false
		next.Session = nil
		return next, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
}

// applyGrade is the single grading path. Every input surface that issues
// a grade funnels through here.
func (m *Machine) applyGrade(st *State, e GradeSubmitted) (*State, []Effect, error) {
	if st.Phase != PhaseReviewing {
		return nil, nil, fmt.Errorf("%w: grade in %s", ErrInvalidTransition, st.Phase)
	}
	cur := st.Current()
	if cur == nil {
		return nil, nil, ErrNoCurrentItem
	}
	if !st.Revealed {
		return nil, nil, ErrAnswerNotRevealed
	}
	if !e.Grade.IsValid() {
		return nil, nil, fmt.Errorf("session: invalid grade %d", e.Grade)
	}

	next := st.clone()
	item := cur.Item

	var effects []Effect

	effects = append(effects, AppendEvent{Event: &types.ReviewEvent{
		ID:             e.EventID,
		SessionID:      next.Session.ID,
		ItemID:         item.ID,
		ItemType:       item.ItemType,
		Grade:          e.Grade,
		ResponseTimeMs: e.ResponseTimeMs,
		CreatedAt:      e.Now,
	}})

	prior := cur.State
	if prior == nil {
		prior = m.fsrs.NewState(item.ID)
	}
	advanced, _ := m.fsrs.Advance(prior, e.Grade, e.Now)
	effects = append(effects, PersistScheduling{State: advanced})

	if item.ConceptID != "" {
		effects = append(effects, PersistMastery{State: m.advanceMastery(item, e.Grade, e.Now)})
	}

	next.Session.TotalReviews++
	if e.Grade.Correct() {
		next.Session.CorrectReviews++
	}

	if e.Grade == types.GradeForgot {
		// The forgotten item goes to the back of the in-session queue so it
		// is seen once more before the session ends.
		next.Queue = append(next.Queue, &types.ReviewQueueItem{Item: item, State: advanced})
	} else {
		// Successful repeats elsewhere in the queue inherit the new state.
		for i := next.Cursor + 1; i < len(next.Queue); i++ {
			if next.Queue[i].Item.ID == item.ID {
				next.Queue[i] = &types.ReviewQueueItem{Item: next.Queue[i].Item, State: advanced}
			}
		}
	}

	next.Cursor++
	next.Revealed = false

	if next.Cursor >= len(next.Queue) {
		next.Phase = PhaseFinished
		ended := e.Now
		next.Session.EndedAt = &ended
		next.Session.DurationSeconds = int(e.Now.Sub(next.Session.StartedAt).Seconds())
		effects = append(effects,
			CloseSession{Session: next.Session},
			RecomputeDailyActivity{Date: e.Now.UTC().Format(types.DateFormat)},
			RecomputeLearnerStats{},
		)
	}

	return next, effects, nil
}

// advanceMastery runs the BKT update for the item's concept and returns
// the new mastery record to persist.
func (m *Machine) advanceMastery(item *types.Item, grade types.Grade, now time.Time) *types.MasteryState {
	var cur *types.MasteryState
	if m.mastery != nil {
		cur = m.mastery(item.ConceptID)
	}
	if cur == nil {
		p := m.bkt.ParamsFor(item.ItemType)
		cur = &types.MasteryState{
			ConceptID: item.ConceptID,
			PKnow:     p.PInit,
			PTransit:  p.PTransit,
			PSlip:     p.PSlip,
			PGuess:    p.PGuess,
			CreatedAt: now,
		}
	} else {
		cur = cur.Clone()
	}

	correct := grade.Correct()
	cur.PKnow = m.bkt.Update(cur.PKnow, correct, item.ItemType)
	cur.TotalAttempts++
	if correct {
		cur.CorrectAttempts++
	}
	attempted := now
	cur.LastAttemptAt = &attempted
	cur.UpdatedAt = now
	return cur
}
