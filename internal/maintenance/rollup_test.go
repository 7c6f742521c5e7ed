package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/revisehq/revise/internal/storage/sqlite"
	"github.com/revisehq/revise/pkg/types"
)

func TestRollupRecomputesAggregates(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	ended := yesterday.Add(5 * time.Minute)
	if err := store.UpsertSession(ctx, &types.ReviewSession{
		ID:              "s1",
		StartedAt:       yesterday,
		EndedAt:         &ended,
		TotalReviews:    2,
		CorrectReviews:  1,
		DurationSeconds: 300,
	}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	for i, grade := range []types.Grade{types.GradeGood, types.GradeForgot} {
		if err := store.AppendReviewEvent(ctx, &types.ReviewEvent{
			ID:        []string{"e1", "e2"}[i],
			SessionID: "s1",
			ItemID:    "item-1",
			ItemType:  types.ItemTypeFlashcard,
			Grade:     grade,
			CreatedAt: yesterday.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("AppendReviewEvent: %v", err)
		}
	}

	r := NewRollup(store, "03:30")
	r.now = func() time.Time { return now }

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	activity, err := store.ListDailyActivity(ctx, 7)
	if err != nil {
		t.Fatalf("ListDailyActivity: %v", err)
	}
	var yday *types.DailyActivity
	for _, a := range activity {
		if a.Date == "2026-03-01" {
			yday = a
		}
	}
	if yday == nil {
		t.Fatal("no activity row for yesterday")
	}
	if yday.ReviewsCount != 2 || yday.CorrectCount != 1 || yday.SessionsCount != 1 {
		t.Errorf("activity = %+v", yday)
	}

	stats, err := store.GetLearnerStats(ctx)
	if err != nil {
		t.Fatalf("GetLearnerStats: %v", err)
	}
	if stats.TotalReviews != 2 || stats.TotalSessions != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastStudyDate != "2026-03-01" {
		t.Errorf("last study date = %s", stats.LastStudyDate)
	}
}

func TestRollupIsIdempotent(t *testing.T) {
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	r := NewRollup(store, "03:30")
	if err := r.Run(ctx); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	activity, err := store.ListDailyActivity(ctx, 7)
	if err != nil {
		t.Fatalf("ListDailyActivity: %v", err)
	}
	for _, a := range activity {
		if a.ReviewsCount != 0 || a.SessionsCount != 0 {
			t.Errorf("empty store produced counts: %+v", a)
		}
	}
}
