package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/revisehq/revise/internal/scheduler"
	"github.com/revisehq/revise/pkg/types"
)

func newTestMachine(t *testing.T, masteryLookup func(string) *types.MasteryState) *Machine {
	t.Helper()
	fsrs, err := scheduler.NewFSRS(scheduler.DefaultParams())
	if err != nil {
		t.Fatalf("NewFSRS: %v", err)
	}
	return NewMachine(fsrs, scheduler.NewBKT(nil), masteryLookup)
}

func queueItem(id string, itemType types.ItemType, conceptID string) *types.ReviewQueueItem {
	return &types.ReviewQueueItem{
		Item: &types.Item{
			ID:        id,
			Front:     "front " + id,
			Back:      "back " + id,
			ItemType:  itemType,
			ConceptID: conceptID,
			Active:    true,
		},
	}
}

// gradeCurrent reveals and grades the current item in one step.
func gradeCurrent(t *testing.T, m *Machine, st *State, grade types.Grade, now time.Time) (*State, []Effect) {
	t.Helper()
	st, _, err := m.Transition(st, AnswerRevealed{})
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	st, effects, err := m.Transition(st, GradeSubmitted{
		EventID: fmt.Sprintf("ev-%d-%d", st.Cursor, now.UnixNano()),
		Grade:   grade,
		Now:     now,
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	return st, effects
}

func TestEmptyQueueCannotStart(t *testing.T) {
	m := newTestMachine(t, nil)

	st, _, err := m.Transition(NewLoadingState(), QueueLoaded{})
	if err != nil {
		t.Fatalf("QueueLoaded: %v", err)
	}
	if st.Phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle", st.Phase)
	}
	if st.DueCount() != 0 {
		t.Fatalf("due count = %d, want 0", st.DueCount())
	}

	_, _, err = m.Transition(st, StartRequested{SessionID: "s1", Now: time.Now()})
	if !errors.Is(err, ErrNoDueItems) {
		t.Fatalf("start on empty queue: err = %v, want ErrNoDueItems", err)
	}
}

func TestSingleItemEasySession(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	st, _, err := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("item-1", types.ItemTypeFlashcard, "")},
	})
	if err != nil {
		t.Fatalf("QueueLoaded: %v", err)
	}

	st, _, err = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	if err != nil {
		t.Fatalf("StartRequested: %v", err)
	}
	if st.Phase != PhaseReviewing {
		t.Fatalf("phase = %s, want reviewing", st.Phase)
	}

	gradedAt := now.Add(30 * time.Second)
	st, effects := gradeCurrent(t, m, st, types.GradeEasy, gradedAt)

	if st.Phase != PhaseFinished {
		t.Fatalf("phase = %s, want finished", st.Phase)
	}
	if st.Session.TotalReviews != 1 || st.Session.CorrectReviews != 1 {
		t.Errorf("totals = %d/%d, want 1/1", st.Session.TotalReviews, st.Session.CorrectReviews)
	}
	if st.Session.DurationSeconds != 30 {
		t.Errorf("duration = %d, want 30", st.Session.DurationSeconds)
	}

	var scheduling *types.SchedulingState
	var sawEvent, sawClose, sawActivity, sawStats bool
	for _, ef := range effects {
		switch e := ef.(type) {
		case PersistScheduling:
			scheduling = e.State
		case AppendEvent:
			sawEvent = true
			if e.Event.Grade != types.GradeEasy || e.Event.ItemID != "item-1" {
				t.Errorf("event = %+v", e.Event)
			}
		case CloseSession:
			sawClose = true
			if e.Session.EndedAt == nil {
				t.Error("closed session has nil EndedAt")
			}
		case RecomputeDailyActivity:
			sawActivity = true
			if e.Date != "2026-03-01" {
				t.Errorf("activity date = %s", e.Date)
			}
		case RecomputeLearnerStats:
			sawStats = true
		}
	}
	if !sawEvent || !sawClose || !sawActivity || !sawStats {
		t.Fatalf("missing effects: event=%v close=%v activity=%v stats=%v",
			sawEvent, sawClose, sawActivity, sawStats)
	}

	if scheduling == nil {
		t.Fatal("no scheduling state persisted")
	}
	if scheduling.ReviewState != types.ReviewStateReview {
		t.Errorf("review state = %s, want review", scheduling.ReviewState)
	}
	if scheduling.Repetitions != 1 {
		t.Errorf("repetitions = %d, want 1", scheduling.Repetitions)
	}
	if scheduling.DueAt == nil || !scheduling.DueAt.After(gradedAt) {
		t.Errorf("due at = %v, want after %v", scheduling.DueAt, gradedAt)
	}
}

func TestForgottenItemIsRequeued(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	st, _, err := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("item-1", types.ItemTypeFlashcard, "")},
	})
	if err != nil {
		t.Fatalf("QueueLoaded: %v", err)
	}
	st, _, err = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	if err != nil {
		t.Fatalf("StartRequested: %v", err)
	}

	st, effects := gradeCurrent(t, m, st, types.GradeForgot, now.Add(10*time.Second))

	if st.Phase != PhaseReviewing {
		t.Fatalf("phase after forgot = %s, want reviewing (item requeued)", st.Phase)
	}
	if st.Remaining() != 1 {
		t.Fatalf("remaining = %d, want 1", st.Remaining())
	}
	if cur := st.Current(); cur == nil || cur.Item.ID != "item-1" {
		t.Fatalf("current = %v, want requeued item-1", cur)
	}

	for _, ef := range effects {
		if ps, ok := ef.(PersistScheduling); ok {
			if ps.State.Lapses != 1 {
				t.Errorf("lapses = %d, want 1", ps.State.Lapses)
			}
			if ps.State.Repetitions != 0 {
				t.Errorf("repetitions = %d, want 0", ps.State.Repetitions)
			}
		}
	}

	// Second grade ends the session.
	st, _ = gradeCurrent(t, m, st, types.GradeGood, now.Add(60*time.Second))
	if st.Phase != PhaseFinished {
		t.Fatalf("phase = %s, want finished", st.Phase)
	}
	if st.Session.TotalReviews != 2 || st.Session.CorrectReviews != 1 {
		t.Errorf("totals = %d/%d, want 2/1", st.Session.TotalReviews, st.Session.CorrectReviews)
	}
}

func TestRequeuedItemCarriesAdvancedState(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("item-1", types.ItemTypeFlashcard, "")},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	st, _ = gradeCurrent(t, m, st, types.GradeForgot, now)

	cur := st.Current()
	if cur.State == nil {
		t.Fatal("requeued item dropped its scheduling state")
	}
	if cur.State.Lapses != 1 {
		t.Errorf("requeued state lapses = %d, want 1", cur.State.Lapses)
	}
}

func TestSessionTotalsMatchEvents(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{
			queueItem("a", types.ItemTypeFlashcard, ""),
			queueItem("b", types.ItemTypeQuiz, ""),
			queueItem("c", types.ItemTypeFlashcard, ""),
		},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})

	grades := []types.Grade{types.GradeGood, types.GradeForgot, types.GradeHard, types.GradeEasy}
	var correct int
	for i, g := range grades {
		var effects []Effect
		st, effects = gradeCurrent(t, m, st, g, now.Add(time.Duration(i)*time.Second))
		if g.Correct() {
			correct++
		}
		for _, ef := range effects {
			if ae, ok := ef.(AppendEvent); ok && ae.Event.Grade != g {
				t.Errorf("event grade = %d, want %d", ae.Event.Grade, g)
			}
		}
	}

	if st.Phase != PhaseFinished {
		t.Fatalf("phase = %s after %d grades", st.Phase, len(grades))
	}
	if st.Session.TotalReviews != len(grades) {
		t.Errorf("total reviews = %d, want %d", st.Session.TotalReviews, len(grades))
	}
	if st.Session.CorrectReviews != correct {
		t.Errorf("correct reviews = %d, want %d", st.Session.CorrectReviews, correct)
	}
}

func TestGradeRequiresReveal(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("item-1", types.ItemTypeFlashcard, "")},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})

	_, _, err := m.Transition(st, GradeSubmitted{EventID: "e1", Grade: types.GradeGood, Now: now})
	if !errors.Is(err, ErrAnswerNotRevealed) {
		t.Fatalf("grade before reveal: err = %v, want ErrAnswerNotRevealed", err)
	}
}

func TestDoubleGradeSamePositionRejected(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{
			queueItem("a", types.ItemTypeFlashcard, ""),
			queueItem("b", types.ItemTypeFlashcard, ""),
		},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	st, _ = gradeCurrent(t, m, st, types.GradeGood, now)

	// The cursor advanced and Revealed reset, so an immediate second grade
	// is rejected until the next answer is revealed.
	_, _, err := m.Transition(st, GradeSubmitted{EventID: "e2", Grade: types.GradeGood, Now: now})
	if !errors.Is(err, ErrAnswerNotRevealed) {
		t.Fatalf("double grade: err = %v, want ErrAnswerNotRevealed", err)
	}
}

func TestGradeAfterFinishRejected(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("a", types.ItemTypeFlashcard, "")},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	st, _ = gradeCurrent(t, m, st, types.GradeGood, now)

	_, _, err := m.Transition(st, GradeSubmitted{EventID: "e2", Grade: types.GradeGood, Now: now})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("grade after finish: err = %v, want ErrInvalidTransition", err)
	}
}

func TestLoadFailureSurfacesInIdle(t *testing.T) {
	m := newTestMachine(t, nil)
	loadErr := errors.New("backend down")

	st, _, err := m.Transition(NewLoadingState(), LoadFailed{Err: loadErr})
	if err != nil {
		t.Fatalf("LoadFailed: %v", err)
	}
	if st.Phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle", st.Phase)
	}
	if !errors.Is(st.LoadErr, loadErr) {
		t.Fatalf("LoadErr = %v, want %v", st.LoadErr, loadErr)
	}

	// A successful reload clears the error.
	st, _, err = m.Transition(st, QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("a", types.ItemTypeFlashcard, "")},
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if st.LoadErr != nil {
		t.Fatalf("LoadErr after reload = %v, want nil", st.LoadErr)
	}
}

func TestAbandonWritesNoSessionRecord(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{
			queueItem("a", types.ItemTypeFlashcard, ""),
			queueItem("b", types.ItemTypeFlashcard, ""),
		},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	st, _ = gradeCurrent(t, m, st, types.GradeGood, now)

	st, effects, err := m.Transition(st, AbandonRequested{})
	if err != nil {
		t.Fatalf("AbandonRequested: %v", err)
	}
	if len(effects) != 0 {
		t.Fatalf("abandon produced %d effects, want 0", len(effects))
	}
	if st.Phase != PhaseIdle || st.Session != nil {
		t.Fatalf("after abandon: phase = %s, session = %v", st.Phase, st.Session)
	}
}

func TestMasteryEffectOnlyForTaggedItems(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{
			queueItem("tagged", types.ItemTypeQuiz, "concept-1"),
			queueItem("untagged", types.ItemTypeFlashcard, ""),
		},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})

	st, effects := gradeCurrent(t, m, st, types.GradeGood, now)
	var mastery *types.MasteryState
	for _, ef := range effects {
		if pm, ok := ef.(PersistMastery); ok {
			mastery = pm.State
		}
	}
	if mastery == nil {
		t.Fatal("tagged item produced no mastery effect")
	}
	if mastery.ConceptID != "concept-1" {
		t.Errorf("concept = %s", mastery.ConceptID)
	}
	if mastery.TotalAttempts != 1 || mastery.CorrectAttempts != 1 {
		t.Errorf("attempts = %d/%d, want 1/1", mastery.TotalAttempts, mastery.CorrectAttempts)
	}
	if mastery.PKnow <= scheduler.DefaultBKTParams()[types.ItemTypeQuiz].PInit {
		t.Errorf("p_know = %f did not rise above prior", mastery.PKnow)
	}

	_, effects = gradeCurrent(t, m, st, types.GradeGood, now)
	for _, ef := range effects {
		if _, ok := ef.(PersistMastery); ok {
			t.Fatal("untagged item produced a mastery effect")
		}
	}
}

func TestMasteryLookupFeedsPrior(t *testing.T) {
	existing := &types.MasteryState{
		ConceptID: "concept-1",
		PKnow:     0.9,
		PTransit:  0.15,
		PSlip:     0.1,
		PGuess:    0.1,
	}
	m := newTestMachine(t, func(conceptID string) *types.MasteryState {
		if conceptID == "concept-1" {
			return existing
		}
		return nil
	})
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("a", types.ItemTypeFlashcard, "concept-1")},
	})
	st, _, _ = m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	_, effects := gradeCurrent(t, m, st, types.GradeGood, now)

	for _, ef := range effects {
		if pm, ok := ef.(PersistMastery); ok {
			if pm.State.PKnow <= 0.9 {
				t.Errorf("p_know = %f, want above preloaded 0.9", pm.State.PKnow)
			}
			if existing.PKnow != 0.9 {
				t.Error("machine mutated the looked-up mastery state")
			}
			return
		}
	}
	t.Fatal("no mastery effect")
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	m := newTestMachine(t, nil)
	now := time.Now()

	st, _, _ := m.Transition(NewLoadingState(), QueueLoaded{
		Items: []*types.ReviewQueueItem{queueItem("a", types.ItemTypeFlashcard, "")},
	})
	started, _, _ := m.Transition(st, StartRequested{SessionID: "s1", Now: now})
	revealed, _, _ := m.Transition(started, AnswerRevealed{})

	if started.Revealed {
		t.Error("reveal mutated the prior state")
	}

	_, _, err := m.Transition(revealed, GradeSubmitted{EventID: "e1", Grade: types.GradeGood, Now: now})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if revealed.Cursor != 0 || revealed.Session.TotalReviews != 0 {
		t.Error("grade mutated the prior state")
	}
}
