// Package postgres implements the review persistence contract on
// PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/revisehq/revise/internal/catalog"
	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/pkg/types"
)

// Store implements storage.ReviewStore and catalog.Catalog using
// PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore connects to PostgreSQL with the given DSN and creates the
// schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetDB exposes the underlying connection for maintenance queries.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- scheduling states ---

const schedulingColumns = `item_id, stability, difficulty, repetitions, lapses,
	review_state, due_at, last_reviewed_at, created_at, updated_at`

// ListSchedulingStates returns all scheduling states.
func (s *Store) ListSchedulingStates(ctx context.Context) ([]*types.SchedulingState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+schedulingColumns+` FROM scheduling_states ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduling states: %w", err)
	}
	defer rows.Close()

	var states []*types.SchedulingState
	for rows.Next() {
		st, err := scanSchedulingState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// GetSchedulingState returns the state for one item.
func (s *Store) GetSchedulingState(ctx context.Context, itemID string) (*types.SchedulingState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+schedulingColumns+` FROM scheduling_states WHERE item_id = $1`, itemID)
	st, err := scanSchedulingState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return st, err
}

// UpsertSchedulingState creates or replaces the state for an item.
func (s *Store) UpsertSchedulingState(ctx context.Context, st *types.SchedulingState) error {
	if st == nil || st.ItemID == "" {
		return fmt.Errorf("%w: item id is required", storage.ErrInvalidInput)
	}
	if st.Stability <= 0 {
		return fmt.Errorf("%w: stability must be positive", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduling_states (`+schedulingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (item_id) DO UPDATE SET
			stability        = EXCLUDED.stability,
			difficulty       = EXCLUDED.difficulty,
			repetitions      = EXCLUDED.repetitions,
			lapses           = EXCLUDED.lapses,
			review_state     = EXCLUDED.review_state,
			due_at           = EXCLUDED.due_at,
			last_reviewed_at = EXCLUDED.last_reviewed_at,
			updated_at       = EXCLUDED.updated_at
	`, st.ItemID, st.Stability, st.Difficulty, st.Repetitions, st.Lapses,
		string(st.ReviewState), nullTime(st.DueAt), nullTime(st.LastReviewedAt),
		orNow(st.CreatedAt), orNow(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert scheduling state for %s: %w", st.ItemID, err)
	}
	return nil
}

// --- mastery states ---

const masteryColumns = `concept_id, p_know, p_transit, p_slip, p_guess,
	total_attempts, correct_attempts, last_attempt_at, created_at, updated_at`

// ListMasteryStates returns mastery states, optionally filtered by concept.
func (s *Store) ListMasteryStates(ctx context.Context, filter storage.MasteryFilter) ([]*types.MasteryState, error) {
	query := `SELECT ` + masteryColumns + ` FROM mastery_states`
	var args []interface{}
	if filter.ConceptID != "" {
		query += ` WHERE concept_id = $1`
		args = append(args, filter.ConceptID)
	}
	query += ` ORDER BY concept_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list mastery states: %w", err)
	}
	defer rows.Close()

	var states []*types.MasteryState
	for rows.Next() {
		st, err := scanMasteryState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// GetMasteryState returns the state for one concept.
func (s *Store) GetMasteryState(ctx context.Context, conceptID string) (*types.MasteryState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+masteryColumns+` FROM mastery_states WHERE concept_id = $1`, conceptID)
	st, err := scanMasteryState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return st, err
}

// UpsertMasteryState creates or replaces the state for a concept.
func (s *Store) UpsertMasteryState(ctx context.Context, st *types.MasteryState) error {
	if st == nil || st.ConceptID == "" {
		return fmt.Errorf("%w: concept id is required", storage.ErrInvalidInput)
	}
	if st.PKnow < 0 || st.PKnow > 1 {
		return fmt.Errorf("%w: p_know %f out of [0,1]", storage.ErrInvalidInput, st.PKnow)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mastery_states (`+masteryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (concept_id) DO UPDATE SET
			p_know           = EXCLUDED.p_know,
			p_transit        = EXCLUDED.p_transit,
			p_slip           = EXCLUDED.p_slip,
			p_guess          = EXCLUDED.p_guess,
			total_attempts   = EXCLUDED.total_attempts,
			correct_attempts = EXCLUDED.correct_attempts,
			last_attempt_at  = EXCLUDED.last_attempt_at,
			updated_at       = EXCLUDED.updated_at
	`, st.ConceptID, st.PKnow, st.PTransit, st.PSlip, st.PGuess,
		st.TotalAttempts, st.CorrectAttempts, nullTime(st.LastAttemptAt),
		orNow(st.CreatedAt), orNow(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert mastery state for %s: %w", st.ConceptID, err)
	}
	return nil
}

// --- sessions and events ---

// UpsertSession creates or replaces a session record.
func (s *Store) UpsertSession(ctx context.Context, sess *types.ReviewSession) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session id is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_sessions
			(id, started_at, ended_at, total_reviews, correct_reviews, duration_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			ended_at         = EXCLUDED.ended_at,
			total_reviews    = EXCLUDED.total_reviews,
			correct_reviews  = EXCLUDED.correct_reviews,
			duration_seconds = EXCLUDED.duration_seconds
	`, sess.ID, sess.StartedAt, nullTime(sess.EndedAt),
		sess.TotalReviews, sess.CorrectReviews, sess.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.ReviewSession, error) {
	var (
		sess    types.ReviewSession
		endedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, total_reviews, correct_reviews, duration_seconds
		FROM review_sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.StartedAt, &endedAt,
		&sess.TotalReviews, &sess.CorrectReviews, &sess.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// AppendReviewEvent appends one grading action to the event log.
func (s *Store) AppendReviewEvent(ctx context.Context, ev *types.ReviewEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event id is required", storage.ErrInvalidInput)
	}
	if !ev.Grade.IsValid() {
		return fmt.Errorf("%w: grade %d out of range", storage.ErrInvalidInput, ev.Grade)
	}

	var responseTime sql.NullInt64
	if ev.ResponseTimeMs != nil {
		responseTime = sql.NullInt64{Int64: int64(*ev.ResponseTimeMs), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_events
			(id, session_id, item_id, item_type, grade, response_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.SessionID, ev.ItemID, string(ev.ItemType), int(ev.Grade),
		responseTime, orNow(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append review event %s: %w", ev.ID, err)
	}
	return nil
}

// ListSessionEvents returns all events for a session in append order.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string) ([]*types.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, item_id, item_type, grade, response_time_ms, created_at
		FROM review_events WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	var events []*types.ReviewEvent
	for rows.Next() {
		var (
			ev           types.ReviewEvent
			itemType     string
			grade        int
			responseTime sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ItemID, &itemType,
			&grade, &responseTime, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review event: %w", err)
		}
		ev.ItemType = types.ItemType(itemType)
		ev.Grade = types.Grade(grade)
		if responseTime.Valid {
			ms := int(responseTime.Int64)
			ev.ResponseTimeMs = &ms
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- aggregates ---

// UpsertDailyActivity recomputes the aggregate row for the given UTC date.
func (s *Store) UpsertDailyActivity(ctx context.Context, date string) (*types.DailyActivity, error) {
	if _, err := time.Parse(types.DateFormat, date); err != nil {
		return nil, fmt.Errorf("%w: bad date %q", storage.ErrInvalidInput, date)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_activity
			(date, reviews_count, correct_count, time_spent_seconds, sessions_count, updated_at)
		SELECT $1::date,
			(SELECT COUNT(*) FROM review_events
				WHERE (created_at AT TIME ZONE 'UTC')::date = $1::date),
			(SELECT COUNT(*) FROM review_events
				WHERE (created_at AT TIME ZONE 'UTC')::date = $1::date AND grade >= 3),
			(SELECT COALESCE(SUM(duration_seconds), 0) FROM review_sessions
				WHERE ended_at IS NOT NULL AND (ended_at AT TIME ZONE 'UTC')::date = $1::date),
			(SELECT COUNT(*) FROM review_sessions
				WHERE ended_at IS NOT NULL AND (ended_at AT TIME ZONE 'UTC')::date = $1::date),
			NOW()
		ON CONFLICT (date) DO UPDATE SET
			reviews_count      = EXCLUDED.reviews_count,
			correct_count      = EXCLUDED.correct_count,
			time_spent_seconds = EXCLUDED.time_spent_seconds,
			sessions_count     = EXCLUDED.sessions_count,
			updated_at         = EXCLUDED.updated_at
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert daily activity for %s: %w", date, err)
	}

	var a types.DailyActivity
	var day time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT date, reviews_count, correct_count, time_spent_seconds, sessions_count
		FROM daily_activity WHERE date = $1::date
	`, date).Scan(&day, &a.ReviewsCount, &a.CorrectCount, &a.TimeSpentSeconds, &a.SessionsCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily activity for %s: %w", date, err)
	}
	a.Date = day.Format(types.DateFormat)
	return &a, nil
}

// ListDailyActivity returns the most recent activity rows, newest first.
func (s *Store) ListDailyActivity(ctx context.Context, days int) ([]*types.DailyActivity, error) {
	if days < 1 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, reviews_count, correct_count, time_spent_seconds, sessions_count
		FROM daily_activity ORDER BY date DESC LIMIT $1
	`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily activity: %w", err)
	}
	defer rows.Close()

	var activity []*types.DailyActivity
	for rows.Next() {
		var a types.DailyActivity
		var day time.Time
		if err := rows.Scan(&day, &a.ReviewsCount, &a.CorrectCount,
			&a.TimeSpentSeconds, &a.SessionsCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		a.Date = day.Format(types.DateFormat)
		activity = append(activity, &a)
	}
	return activity, rows.Err()
}

// UpsertLearnerStats recomputes the lifetime aggregates.
func (s *Store) UpsertLearnerStats(ctx context.Context) (*types.LearnerStats, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learner_stats
			(id, total_reviews, total_time_seconds, total_sessions, last_study_date, updated_at)
		SELECT 1,
			(SELECT COUNT(*) FROM review_events),
			(SELECT COALESCE(SUM(duration_seconds), 0) FROM review_sessions WHERE ended_at IS NOT NULL),
			(SELECT COUNT(*) FROM review_sessions WHERE ended_at IS NOT NULL),
			(SELECT COALESCE(to_char(MAX(created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD'), '')
				FROM review_events),
			NOW()
		ON CONFLICT (id) DO UPDATE SET
			total_reviews      = EXCLUDED.total_reviews,
			total_time_seconds = EXCLUDED.total_time_seconds,
			total_sessions     = EXCLUDED.total_sessions,
			last_study_date    = EXCLUDED.last_study_date,
			updated_at         = EXCLUDED.updated_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert learner stats: %w", err)
	}
	return s.GetLearnerStats(ctx)
}

// GetLearnerStats returns the lifetime aggregates, or a zero value before
// the first upsert.
func (s *Store) GetLearnerStats(ctx context.Context) (*types.LearnerStats, error) {
	var st types.LearnerStats
	err := s.db.QueryRowContext(ctx, `
		SELECT total_reviews, total_time_seconds, total_sessions, last_study_date
		FROM learner_stats WHERE id = 1
	`).Scan(&st.TotalReviews, &st.TotalTimeSeconds, &st.TotalSessions, &st.LastStudyDate)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.LearnerStats{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read learner stats: %w", err)
	}
	return &st, nil
}

// --- content catalog ---

// ListActiveItemIDs returns the ids of all active items.
func (s *Store) ListActiveItemIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM items WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetItem returns the full content of one item.
func (s *Store) GetItem(ctx context.Context, id string) (*types.Item, error) {
	var (
		it       types.Item
		itemType string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, front, back, item_type, concept_id, active, created_at, updated_at
		FROM items WHERE id = $1
	`, id).Scan(&it.ID, &it.Front, &it.Back, &itemType, &it.ConceptID,
		&it.Active, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	it.ItemType = types.ItemType(itemType)
	return &it, nil
}

// UpsertItem creates or replaces a catalog item. Exists for deck seeding.
func (s *Store) UpsertItem(ctx context.Context, it *types.Item) error {
	if it == nil || it.ID == "" {
		return fmt.Errorf("%w: item id is required", storage.ErrInvalidInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, front, back, item_type, concept_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			front      = EXCLUDED.front,
			back       = EXCLUDED.back,
			item_type  = EXCLUDED.item_type,
			concept_id = EXCLUDED.concept_id,
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`, it.ID, it.Front, it.Back, string(it.ItemType), it.ConceptID, it.Active,
		orNow(it.CreatedAt), orNow(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
	}
	return nil
}

// --- row scanning helpers ---

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedulingState(row scanner) (*types.SchedulingState, error) {
	var (
		st          types.SchedulingState
		reviewState string
		dueAt       sql.NullTime
		lastReview  sql.NullTime
	)
	err := row.Scan(&st.ItemID, &st.Stability, &st.Difficulty, &st.Repetitions,
		&st.Lapses, &reviewState, &dueAt, &lastReview, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan scheduling state: %w", err)
	}

	st.ReviewState = types.ReviewState(reviewState)
	if dueAt.Valid {
		t := dueAt.Time
		st.DueAt = &t
	}
	if lastReview.Valid {
		t := lastReview.Time
		st.LastReviewedAt = &t
	}
	return &st, nil
}

func scanMasteryState(row scanner) (*types.MasteryState, error) {
	var (
		st          types.MasteryState
		lastAttempt sql.NullTime
	)
	err := row.Scan(&st.ConceptID, &st.PKnow, &st.PTransit, &st.PSlip, &st.PGuess,
		&st.TotalAttempts, &st.CorrectAttempts, &lastAttempt, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mastery state: %w", err)
	}
	if lastAttempt.Valid {
		t := lastAttempt.Time
		st.LastAttemptAt = &t
	}
	return &st, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
