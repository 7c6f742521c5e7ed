package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// WriteJob is one queued persistence write. Jobs are labelled for logs
// only; the tracker never inspects what a job writes.
type WriteJob struct {
	Kind    string
	Key     string
	Execute func(ctx context.Context) error

	// barrier jobs run outside the breaker and limiter and never retry.
	// Flush uses them to observe queue position.
	barrier bool

	attempt  int
	enqueued time.Time
}

// TrackerConfig controls the background write queue.
type TrackerConfig struct {
	QueueSize       int
	MaxRetries      int
	ShutdownTimeout time.Duration

	// Writes per second allowed through to storage. Zero disables limiting.
	RatePerSecond float64
	RateBurst     int

	// Circuit breaker over the storage backend.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// DefaultTrackerConfig returns the tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		QueueSize:          256,
		MaxRetries:         3,
		ShutdownTimeout:    10 * time.Second,
		RatePerSecond:      100,
		RateBurst:          50,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
	}
}

// Tracker executes persistence writes in the background so grading is
// never blocked on storage. A single worker drains the queue, which
// keeps writes in the order the grades occurred; retries happen in
// place, at the head of the queue, for the same reason.
type Tracker struct {
	config  TrackerConfig
	queue   chan *WriteJob
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerWG     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	dropped int
}

// NewTracker creates a tracker with the given configuration. Zero
// fields fall back to DefaultTrackerConfig values.
func NewTracker(config TrackerConfig) *Tracker {
	defaults := DefaultTrackerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.BreakerMaxFailures == 0 {
		config.BreakerMaxFailures = defaults.BreakerMaxFailures
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = defaults.BreakerTimeout
	}

	var limiter *rate.Limiter
	if config.RatePerSecond > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "TrackingWrites",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("WARNING: %s circuit breaker %s -> %s", name, from, to)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		config:       config,
		queue:        make(chan *WriteJob, config.QueueSize),
		breaker:      breaker,
		limiter:      limiter,
		workerCtx:    ctx,
		workerCancel: cancel,
	}
}

// Start launches the worker goroutine. Calling Start twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.workerWG.Add(1)
	go t.worker()
}

// Enqueue queues one write. It never blocks: when the queue is full the
// job is dropped with a warning, matching the fire-and-forget contract.
// Returns false if the job was not queued.
func (t *Tracker) Enqueue(job *WriteJob) bool {
	if job == nil || job.Execute == nil {
		return false
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	job.enqueued = time.Now()
	select {
	case t.queue <- job:
		return true
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		log.Printf("WARNING: tracking queue full (size=%d), dropping %s write for %s",
			t.config.QueueSize, job.Kind, job.Key)
		return false
	}
}

// Flush blocks until every write queued before the call has been
// attempted, or the context is cancelled. The aggregate recomputes at
// session close use this so they count the session's own events.
func (t *Tracker) Flush(ctx context.Context) error {
	done := make(chan struct{})
	ok := t.Enqueue(&WriteJob{
		Kind:    "flush",
		barrier: true,
		Execute: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
	if !ok {
		return errors.New("session: flush not queued")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of writes waiting in the queue.
func (t *Tracker) QueueDepth() int {
	return len(t.queue)
}

// Dropped returns the number of writes dropped because the queue was
// full or retries were exhausted.
func (t *Tracker) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// BreakerState reports the storage circuit breaker state as a string.
func (t *Tracker) BreakerState() string {
	switch t.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stop closes the queue and waits for the worker to drain it, up to the
// shutdown timeout. Jobs still queued after the timeout are dropped.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	close(t.queue)

	done := make(chan struct{})
	go func() {
		t.workerWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.workerCancel()
		return nil
	case <-time.After(t.config.ShutdownTimeout):
		remaining := len(t.queue)
		t.workerCancel()
		log.Printf("WARNING: tracker shutdown timeout reached, %d writes may be dropped", remaining)
		return nil
	}
}

func (t *Tracker) worker() {
	defer t.workerWG.Done()

	for job := range t.queue {
		t.process(job)
	}
}

// process runs one job to success or exhaustion. Retrying here, rather
// than requeueing at the back, keeps later writes from overtaking an
// earlier one for the same item.
func (t *Tracker) process(job *WriteJob) {
	if job.barrier {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = job.Execute(ctx)
		return
	}

	for {
		if job.attempt > 0 {
			backoff := time.Duration(job.attempt*job.attempt) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-t.workerCtx.Done():
				return
			}
		}

		if t.limiter != nil {
			if err := t.limiter.Wait(t.workerCtx); err != nil {
				return
			}
		}

		_, err := t.breaker.Execute(func() (interface{}, error) {
			// Writes use their own timeout so a stall cannot wedge the
			// queue behind one job.
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return nil, job.Execute(ctx)
		})
		if err == nil {
			return
		}

		job.attempt++
		if job.attempt > t.config.MaxRetries {
			t.mu.Lock()
			t.dropped++
			t.mu.Unlock()
			log.Printf("ERROR: giving up on %s write for %s after %d attempts: %v",
				job.Kind, job.Key, job.attempt, err)
			return
		}
		log.Printf("WARNING: %s write for %s failed (attempt %d/%d): %v",
			job.Kind, job.Key, job.attempt, t.config.MaxRetries, err)
	}
}
