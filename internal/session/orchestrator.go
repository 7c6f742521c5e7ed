package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/revisehq/revise/internal/catalog"
	"github.com/revisehq/revise/internal/scheduler"
	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/pkg/types"
)

// contentFetchWorkers bounds the parallel item-content lookups during
// queue load.
const contentFetchWorkers = 8

// Orchestrator drives one learner's review sessions. It loads the due
// queue, runs the state machine, and dispatches the machine's effects:
// per-grade tracking writes go to the background tracker, close-time
// aggregate writes run concurrently and are awaited.
//
// One logical thread of control per learner: all public methods take the
// orchestrator mutex, so there is never more than one session in flight.
type Orchestrator struct {
	store   storage.ReviewStore
	catalog catalog.Catalog
	tracker *Tracker
	fsrs    *scheduler.FSRS
	bkt     *scheduler.BKT

	now func() time.Time

	mu      sync.Mutex
	machine *Machine
	state   *State

	// In-memory view of mastery states, preloaded at queue load and kept
	// current as grades dispatch mastery writes. Repeat attempts on the
	// same concept within a session must see earlier updates.
	mastery map[string]*types.MasteryState
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock overrides the time source. Tests use this to pin "now".
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator over the given collaborators.
func NewOrchestrator(store storage.ReviewStore, cat catalog.Catalog, tracker *Tracker,
	fsrs *scheduler.FSRS, bkt *scheduler.BKT, opts ...OrchestratorOption) *Orchestrator {

	o := &Orchestrator{
		store:   store,
		catalog: cat,
		tracker: tracker,
		fsrs:    fsrs,
		bkt:     bkt,
		now:     time.Now,
		state:   NewLoadingState(),
		mastery: make(map[string]*types.MasteryState),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.machine = NewMachine(fsrs, bkt, o.masteryLookup)
	return o
}

// masteryLookup serves the machine from the preloaded snapshot. Callers
// hold the orchestrator mutex.
func (o *Orchestrator) masteryLookup(conceptID string) *types.MasteryState {
	return o.mastery[conceptID]
}

// Load builds the due queue: catalog ids, scheduling states, the due
// filter, then item content fetched in parallel. A failed content lookup
// drops only that item. Load errors land in the Idle state where the
// learner can retry; Load itself returns the error too so callers can
// surface it.
func (o *Orchestrator) Load(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	items, err := o.loadQueue(ctx)
	if err != nil {
		next, _, terr := o.machine.Transition(o.state, LoadFailed{Err: err})
		if terr != nil {
			return terr
		}
		o.state = next
		return err
	}

	next, _, err := o.machine.Transition(o.state, QueueLoaded{Items: items})
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

func (o *Orchestrator) loadQueue(ctx context.Context) ([]*types.ReviewQueueItem, error) {
	itemIDs, err := o.catalog.ListActiveItemIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog items: %w", err)
	}

	states, err := o.store.ListSchedulingStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduling states: %w", err)
	}
	byItem := make(map[string]*types.SchedulingState, len(states))
	for _, st := range states {
		byItem[st.ItemID] = st
	}

	entries := scheduler.BuildQueue(itemIDs, byItem, o.now())

	masteryStates, err := o.store.ListMasteryStates(ctx, storage.MasteryFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list mastery states: %w", err)
	}
	o.mastery = make(map[string]*types.MasteryState, len(masteryStates))
	for _, ms := range masteryStates {
		o.mastery[ms.ConceptID] = ms
	}

	return o.fetchContent(ctx, entries), nil
}

// fetchContent joins queue entries with item content. Lookups run on a
// bounded worker pool; a failure or missing item excludes that entry
// only, and queue order is preserved.
func (o *Orchestrator) fetchContent(ctx context.Context, entries []scheduler.QueueEntry) []*types.ReviewQueueItem {
	fetched := make([]*types.Item, len(entries))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := contentFetchWorkers
	if workers > len(entries) {
		workers = len(entries)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				item, err := o.catalog.GetItem(ctx, entries[i].ItemID)
				if err != nil {
					log.Printf("WARNING: dropping item %s from queue: %v", entries[i].ItemID, err)
					continue
				}
				fetched[i] = item
			}
		}()
	}
	for i := range entries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	items := make([]*types.ReviewQueueItem, 0, len(entries))
	for i, entry := range entries {
		if fetched[i] == nil {
			continue
		}
		items = append(items, &types.ReviewQueueItem{Item: fetched[i], State: entry.State})
	}
	return items
}

// Start begins a session over the loaded queue. Returns ErrNoDueItems
// when nothing is due.
func (o *Orchestrator) Start() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sessionID := uuid.New().String()
	next, _, err := o.machine.Transition(o.state, StartRequested{
		SessionID: sessionID,
		Now:       o.now(),
	})
	if err != nil {
		return "", err
	}
	o.state = next
	return sessionID, nil
}

// Reveal shows the answer side of the current item.
func (o *Orchestrator) Reveal() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, _, err := o.machine.Transition(o.state, AnswerRevealed{})
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

// Grade records the learner's grade for the current item. This is the
// single grading entry point: HTTP, WebSocket, and keyboard paths all
// land here. Tracking writes are queued in grade order and never block
// the learner; when the grade finishes the queue, the session closes and
// its aggregate writes are awaited.
func (o *Orchestrator) Grade(ctx context.Context, grade types.Grade, responseTimeMs *int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, effects, err := o.machine.Transition(o.state, GradeSubmitted{
		EventID:        uuid.New().String(),
		Grade:          grade,
		ResponseTimeMs: responseTimeMs,
		Now:            o.now(),
	})
	if err != nil {
		return err
	}
	o.state = next
	o.dispatch(ctx, effects)
	return nil
}

// Abandon discards the running session. Tracking writes already issued
// stay valid; no session record is written.
func (o *Orchestrator) Abandon() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	next, _, err := o.machine.Transition(o.state, AbandonRequested{})
	if err != nil {
		return err
	}
	o.state = next
	return nil
}

// Snapshot is a read-only view of the session for callers rendering it.
type Snapshot struct {
	Phase     Phase                     `json:"phase"`
	LoadError string                    `json:"load_error,omitempty"`
	DueCount  int                       `json:"due_count"`
	Remaining int                       `json:"remaining"`
	Revealed  bool                      `json:"revealed"`
	Current   *types.Item               `json:"current,omitempty"`
	Session   *types.ReviewSession      `json:"session,omitempty"`
	Intervals map[types.Grade]time.Time `json:"intervals,omitempty"`

	// Retrievability is the current recall probability of the current
	// item, 0 for never-reviewed items.
	Retrievability float64 `json:"retrievability,omitempty"`
}

// Snapshot returns the current session view, including the interval each
// grade would produce for the current item.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		Phase:     o.state.Phase,
		DueCount:  o.state.DueCount(),
		Remaining: o.state.Remaining(),
		Revealed:  o.state.Revealed,
	}
	if o.state.LoadErr != nil {
		snap.LoadError = o.state.LoadErr.Error()
	}
	if o.state.Session != nil {
		sess := *o.state.Session
		snap.Session = &sess
	}
	if cur := o.state.Current(); cur != nil {
		snap.Current = cur.Item
		prior := cur.State
		if prior == nil {
			prior = o.fsrs.NewState(cur.Item.ID)
		}
		snap.Intervals = o.fsrs.Preview(prior, o.now())
		snap.Retrievability = o.fsrs.Retrievability(cur.State, o.now())
	}
	return snap
}

// MasteryView returns the in-memory mastery snapshot, cloned.
func (o *Orchestrator) MasteryView() []*types.MasteryState {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]*types.MasteryState, 0, len(o.mastery))
	for _, ms := range o.mastery {
		out = append(out, ms.Clone())
	}
	return out
}

// dispatch routes transition effects. Per-grade writes are queued on the
// tracker in the order the machine emitted them. The three close-time
// writes run concurrently with each other and are all attempted even if
// one fails. Callers hold the mutex.
func (o *Orchestrator) dispatch(ctx context.Context, effects []Effect) {
	var closeSession func(context.Context) error
	var closers []func(context.Context) error

	for _, ef := range effects {
		switch e := ef.(type) {
		case AppendEvent:
			ev := e.Event
			o.tracker.Enqueue(&WriteJob{
				Kind: "review-event",
				Key:  ev.ItemID,
				Execute: func(ctx context.Context) error {
					return o.store.AppendReviewEvent(ctx, ev)
				},
			})
		case PersistScheduling:
			st := e.State
			o.tracker.Enqueue(&WriteJob{
				Kind: "scheduling",
				Key:  st.ItemID,
				Execute: func(ctx context.Context) error {
					return o.store.UpsertSchedulingState(ctx, st)
				},
			})
		case PersistMastery:
			ms := e.State
			o.mastery[ms.ConceptID] = ms
			o.tracker.Enqueue(&WriteJob{
				Kind: "mastery",
				Key:  ms.ConceptID,
				Execute: func(ctx context.Context) error {
					return o.store.UpsertMasteryState(ctx, ms)
				},
			})
		case CloseSession:
			sess := e.Session
			closeSession = func(ctx context.Context) error {
				if err := o.store.UpsertSession(ctx, sess); err != nil {
					return fmt.Errorf("failed to close session %s: %w", sess.ID, err)
				}
				return nil
			}
		case RecomputeDailyActivity:
			date := e.Date
			closers = append(closers, func(ctx context.Context) error {
				if _, err := o.store.UpsertDailyActivity(ctx, date); err != nil {
					return fmt.Errorf("failed to upsert daily activity: %w", err)
				}
				return nil
			})
		case RecomputeLearnerStats:
			closers = append(closers, func(ctx context.Context) error {
				if _, err := o.store.UpsertLearnerStats(ctx); err != nil {
					return fmt.Errorf("failed to upsert learner stats: %w", err)
				}
				return nil
			})
		}
	}

	if closeSession == nil && len(closers) == 0 {
		return
	}

	// The aggregates recompute from the event and session tables, so the
	// tracker queue must drain first or the session's own events would be
	// missed. A flush failure is tolerated; the nightly rollup reconciles
	// any stragglers.
	if err := o.tracker.Flush(ctx); err != nil {
		log.Printf("WARNING: tracking queue flush before session close: %v", err)
	}

	// The session record lands before the recomputes so the daily
	// aggregate counts the session just closed. Its failure does not
	// short-circuit the recomputes.
	if closeSession != nil {
		if err := closeSession(ctx); err != nil {
			log.Printf("ERROR: session close write failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, fn := range closers {
		wg.Add(1)
		go func(fn func(context.Context) error) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Printf("ERROR: session close write failed: %v", err)
			}
		}(fn)
	}
	wg.Wait()
}
