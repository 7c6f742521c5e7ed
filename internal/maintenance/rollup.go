// Package maintenance runs the scheduled housekeeping jobs: a nightly
// rollup that recomputes the aggregate statistics from the event and
// session tables. The rollup reconciles anything the best-effort
// tracking writes missed during the day.
package maintenance

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/pkg/types"
)

// Rollup recomputes daily activity and lifetime learner statistics on a
// fixed nightly schedule.
type Rollup struct {
	scheduler *gocron.Scheduler
	stats     storage.StatsStore
	at        string
	now       func() time.Time
}

// NewRollup creates a rollup job that runs daily at the given local
// time (HH:MM).
func NewRollup(stats storage.StatsStore, at string) *Rollup {
	return &Rollup{
		scheduler: gocron.NewScheduler(time.UTC),
		stats:     stats,
		at:        at,
		now:       time.Now,
	}
}

// Start schedules the nightly job and begins running it in the
// background.
func (r *Rollup) Start() error {
	_, err := r.scheduler.Every(1).Day().At(r.at).Do(func() {
		if err := r.Run(context.Background()); err != nil {
			log.Printf("ERROR: nightly rollup: %v", err)
		}
	})
	if err != nil {
		return err
	}
	r.scheduler.StartAsync()
	log.Printf("Nightly rollup scheduled at %s UTC", r.at)
	return nil
}

// Stop terminates the scheduled job.
func (r *Rollup) Stop() {
	r.scheduler.Stop()
}

// Run recomputes the aggregates once: yesterday's and today's daily
// activity rows plus the lifetime stats. Yesterday is included because
// the job runs shortly after midnight, when the previous day's final
// writes are the ones most recently reconciled.
func (r *Rollup) Run(ctx context.Context) error {
	now := r.now().UTC()
	dates := []string{
		now.AddDate(0, 0, -1).Format(types.DateFormat),
		now.Format(types.DateFormat),
	}

	var firstErr error
	for _, date := range dates {
		if _, err := r.stats.UpsertDailyActivity(ctx, date); err != nil {
			log.Printf("WARNING: rollup failed for %s: %v", date, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if _, err := r.stats.UpsertLearnerStats(ctx); err != nil {
		log.Printf("WARNING: learner stats rollup failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
