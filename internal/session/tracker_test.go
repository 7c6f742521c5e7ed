package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestTracker(config TrackerConfig) *Tracker {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	t := NewTracker(config)
	t.Start()
	return t
}

func TestTrackerPreservesWriteOrder(t *testing.T) {
	tr := newTestTracker(TrackerConfig{QueueSize: 64})

	var mu sync.Mutex
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		ok := tr.Enqueue(&WriteJob{
			Kind: "scheduling",
			Key:  fmt.Sprintf("item-%d", i),
			Execute: func(ctx context.Context) error {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				return nil
			},
		})
		if !ok {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if len(got) != 20 {
		t.Fatalf("executed %d writes, want 20", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("write order %v, want ascending", got)
		}
	}
}

func TestTrackerRetriesInPlace(t *testing.T) {
	tr := newTestTracker(TrackerConfig{QueueSize: 8, MaxRetries: 3})

	var mu sync.Mutex
	var attempts int
	var order []string

	tr.Enqueue(&WriteJob{
		Kind: "scheduling",
		Key:  "flaky",
		Execute: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			order = append(order, "flaky")
			return nil
		},
	})
	tr.Enqueue(&WriteJob{
		Kind: "scheduling",
		Key:  "after",
		Execute: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "after")
			mu.Unlock()
			return nil
		},
	})

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// The retrying job must finish before the job queued behind it.
	if len(order) != 2 || order[0] != "flaky" || order[1] != "after" {
		t.Errorf("order = %v, want [flaky after]", order)
	}
}

func TestTrackerDropsAfterMaxRetries(t *testing.T) {
	tr := newTestTracker(TrackerConfig{QueueSize: 8, MaxRetries: 2})

	var mu sync.Mutex
	var attempts int
	tr.Enqueue(&WriteJob{
		Kind: "mastery",
		Key:  "doomed",
		Execute: func(ctx context.Context) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return errors.New("permanent")
		},
	})

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Initial attempt plus MaxRetries retries.
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if tr.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", tr.Dropped())
	}
}

func TestTrackerDropsWhenQueueFull(t *testing.T) {
	tr := NewTracker(TrackerConfig{QueueSize: 2})
	// Worker not started, so the queue cannot drain.

	block := func(ctx context.Context) error { return nil }
	if !tr.Enqueue(&WriteJob{Kind: "a", Key: "1", Execute: block}) {
		t.Fatal("first enqueue failed")
	}
	if !tr.Enqueue(&WriteJob{Kind: "a", Key: "2", Execute: block}) {
		t.Fatal("second enqueue failed")
	}
	if tr.Enqueue(&WriteJob{Kind: "a", Key: "3", Execute: block}) {
		t.Fatal("third enqueue should have been dropped")
	}
	if tr.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", tr.Dropped())
	}
	if tr.QueueDepth() != 2 {
		t.Errorf("queue depth = %d, want 2", tr.QueueDepth())
	}
}

func TestTrackerRejectsAfterStop(t *testing.T) {
	tr := newTestTracker(TrackerConfig{QueueSize: 8})
	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ok := tr.Enqueue(&WriteJob{Kind: "a", Key: "late", Execute: func(ctx context.Context) error {
		return nil
	}})
	if ok {
		t.Fatal("enqueue after Stop succeeded")
	}

	// Second Stop is a no-op.
	if err := tr.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestTrackerBreakerOpensOnRepeatedFailure(t *testing.T) {
	tr := newTestTracker(TrackerConfig{
		QueueSize:          32,
		MaxRetries:         1,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Minute,
	})

	for i := 0; i < 4; i++ {
		tr.Enqueue(&WriteJob{
			Kind: "scheduling",
			Key:  fmt.Sprintf("bad-%d", i),
			Execute: func(ctx context.Context) error {
				return errors.New("backend down")
			},
		})
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if state := tr.BreakerState(); state != "open" {
		t.Errorf("breaker state = %s, want open", state)
	}
}
