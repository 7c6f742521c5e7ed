// Package sqlite implements the review persistence contract on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/revisehq/revise/internal/catalog"
	"github.com/revisehq/revise/internal/storage"
	"github.com/revisehq/revise/pkg/types"
)

// Store implements storage.ReviewStore and catalog.Catalog using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database, configures WAL mode, and creates the
// schema. Use ":memory:" for an ephemeral store in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY errors under concurrent load;
	// WAL mode lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
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

// Close releases the database connection.
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
		`SELECT `+schedulingColumns+` FROM scheduling_states WHERE item_id = ?`, itemID)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			stability        = excluded.stability,
			difficulty       = excluded.difficulty,
			repetitions      = excluded.repetitions,
			lapses           = excluded.lapses,
			review_state     = excluded.review_state,
			due_at           = excluded.due_at,
			last_reviewed_at = excluded.last_reviewed_at,
			updated_at       = excluded.updated_at
	`, st.ItemID, st.Stability, st.Difficulty, st.Repetitions, st.Lapses,
		string(st.ReviewState), fmtNullTime(st.DueAt), fmtNullTime(st.LastReviewedAt),
		fmtTime(orNow(st.CreatedAt)), fmtTime(orNow(st.UpdatedAt)))
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
		query += ` WHERE concept_id = ?`
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
		`SELECT `+masteryColumns+` FROM mastery_states WHERE concept_id = ?`, conceptID)
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(concept_id) DO UPDATE SET
			p_know           = excluded.p_know,
			p_transit        = excluded.p_transit,
			p_slip           = excluded.p_slip,
			p_guess          = excluded.p_guess,
			total_attempts   = excluded.total_attempts,
			correct_attempts = excluded.correct_attempts,
			last_attempt_at  = excluded.last_attempt_at,
			updated_at       = excluded.updated_at
	`, st.ConceptID, st.PKnow, st.PTransit, st.PSlip, st.PGuess,
		st.TotalAttempts, st.CorrectAttempts, fmtNullTime(st.LastAttemptAt),
		fmtTime(orNow(st.CreatedAt)), fmtTime(orNow(st.UpdatedAt)))
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at         = excluded.ended_at,
			total_reviews    = excluded.total_reviews,
			correct_reviews  = excluded.correct_reviews,
			duration_seconds = excluded.duration_seconds
	`, sess.ID, fmtTime(sess.StartedAt), fmtNullTime(sess.EndedAt),
		sess.TotalReviews, sess.CorrectReviews, sess.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*types.ReviewSession, error) {
	var (
		sess      types.ReviewSession
		startedAt string
		endedAt   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, total_reviews, correct_reviews, duration_seconds
		FROM review_sessions WHERE id = ?
	`, id).Scan(&sess.ID, &startedAt, &endedAt,
		&sess.TotalReviews, &sess.CorrectReviews, &sess.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sess.EndedAt, err = parseNullTime(endedAt); err != nil {
		return nil, err
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

	// Keyed by event id: re-issuing the same append is a no-op.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_events
			(id, session_id, item_id, item_type, grade, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.SessionID, ev.ItemID, string(ev.ItemType), int(ev.Grade),
		responseTime, fmtTime(orNow(ev.CreatedAt)))
	if err != nil {
		return fmt.Errorf("failed to append review event %s: %w", ev.ID, err)
	}
	return nil
}

// ListSessionEvents returns all events for a session in append order.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string) ([]*types.ReviewEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, item_id, item_type, grade, response_time_ms, created_at
		FROM review_events WHERE session_id = ?
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
			createdAt    string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ItemID, &itemType,
			&grade, &responseTime, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan review event: %w", err)
		}
		ev.ItemType = types.ItemType(itemType)
		ev.Grade = types.Grade(grade)
		if responseTime.Valid {
			ms := int(responseTime.Int64)
			ev.ResponseTimeMs = &ms
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- aggregates ---

// UpsertDailyActivity recomputes the aggregate row for the given UTC date
// from the event and session tables. Recomputing instead of adding deltas
// keeps the write idempotent under retry and lets the nightly rollup heal
// days whose tracking writes were dropped.
func (s *Store) UpsertDailyActivity(ctx context.Context, date string) (*types.DailyActivity, error) {
	if _, err := time.Parse(types.DateFormat, date); err != nil {
		return nil, fmt.Errorf("%w: bad date %q", storage.ErrInvalidInput, date)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_activity
			(date, reviews_count, correct_count, time_spent_seconds, sessions_count, updated_at)
		SELECT ?,
			(SELECT COUNT(*) FROM review_events WHERE substr(created_at, 1, 10) = ?),
			(SELECT COUNT(*) FROM review_events WHERE substr(created_at, 1, 10) = ? AND grade >= 3),
			(SELECT COALESCE(SUM(duration_seconds), 0) FROM review_sessions
				WHERE ended_at IS NOT NULL AND substr(ended_at, 1, 10) = ?),
			(SELECT COUNT(*) FROM review_sessions
				WHERE ended_at IS NOT NULL AND substr(ended_at, 1, 10) = ?),
			?
		ON CONFLICT(date) DO UPDATE SET
			reviews_count      = excluded.reviews_count,
			correct_count      = excluded.correct_count,
			time_spent_seconds = excluded.time_spent_seconds,
			sessions_count     = excluded.sessions_count,
			updated_at         = excluded.updated_at
	`, date, date, date, date, date, fmtTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert daily activity for %s: %w", date, err)
	}

	return s.getDailyActivity(ctx, date)
}

func (s *Store) getDailyActivity(ctx context.Context, date string) (*types.DailyActivity, error) {
	var a types.DailyActivity
	err := s.db.QueryRowContext(ctx, `
		SELECT date, reviews_count, correct_count, time_spent_seconds, sessions_count
		FROM daily_activity WHERE date = ?
	`, date).Scan(&a.Date, &a.ReviewsCount, &a.CorrectCount, &a.TimeSpentSeconds, &a.SessionsCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read daily activity for %s: %w", date, err)
	}
	return &a, nil
}

// ListDailyActivity returns the most recent activity rows, newest first.
func (s *Store) ListDailyActivity(ctx context.Context, days int) ([]*types.DailyActivity, error) {
	if days < 1 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, reviews_count, correct_count, time_spent_seconds, sessions_count
		FROM daily_activity ORDER BY date DESC LIMIT ?
	`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily activity: %w", err)
	}
	defer rows.Close()

	var activity []*types.DailyActivity
	for rows.Next() {
		var a types.DailyActivity
		if err := rows.Scan(&a.Date, &a.ReviewsCount, &a.CorrectCount,
			&a.TimeSpentSeconds, &a.SessionsCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		activity = append(activity, &a)
	}
	return activity, rows.Err()
}

// UpsertLearnerStats recomputes the lifetime aggregates from the event and
// session tables.
func (s *Store) UpsertLearnerStats(ctx context.Context) (*types.LearnerStats, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learner_stats
			(id, total_reviews, total_time_seconds, total_sessions, last_study_date, updated_at)
		SELECT 1,
			(SELECT COUNT(*) FROM review_events),
			(SELECT COALESCE(SUM(duration_seconds), 0) FROM review_sessions WHERE ended_at IS NOT NULL),
			(SELECT COUNT(*) FROM review_sessions WHERE ended_at IS NOT NULL),
			(SELECT COALESCE(MAX(substr(created_at, 1, 10)), '') FROM review_events),
			?
		ON CONFLICT(id) DO UPDATE SET
			total_reviews      = excluded.total_reviews,
			total_time_seconds = excluded.total_time_seconds,
			total_sessions     = excluded.total_sessions,
			last_study_date    = excluded.last_study_date,
			updated_at         = excluded.updated_at
	`, fmtTime(time.Now()))
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
		`SELECT id FROM items WHERE active = 1 ORDER BY id`)
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
		it        types.Item
		itemType  string
		active    int
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, front, back, item_type, concept_id, active, created_at, updated_at
		FROM items WHERE id = ?
	`, id).Scan(&it.ID, &it.Front, &it.Back, &itemType, &it.ConceptID,
		&active, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}

	it.ItemType = types.ItemType(itemType)
	it.Active = active != 0
	if it.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// UpsertItem creates or replaces a catalog item. The review core never
// calls this; it exists for seeding decks and for tests.
func (s *Store) UpsertItem(ctx context.Context, it *types.Item) error {
	if it == nil || it.ID == "" {
		return fmt.Errorf("%w: item id is required", storage.ErrInvalidInput)
	}

	active := 0
	if it.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, front, back, item_type, concept_id, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			front      = excluded.front,
			back       = excluded.back,
			item_type  = excluded.item_type,
			concept_id = excluded.concept_id,
			active     = excluded.active,
			updated_at = excluded.updated_at
	`, it.ID, it.Front, it.Back, string(it.ItemType), it.ConceptID, active,
		fmtTime(orNow(it.CreatedAt)), fmtTime(orNow(it.UpdatedAt)))
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", it.ID, err)
	}
	return nil
}

// --- row scanning and time helpers ---

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedulingState(row scanner) (*types.SchedulingState, error) {
	var (
		st          types.SchedulingState
		reviewState string
		dueAt       sql.NullString
		lastReview  sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&st.ItemID, &st.Stability, &st.Difficulty, &st.Repetitions,
		&st.Lapses, &reviewState, &dueAt, &lastReview, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan scheduling state: %w", err)
	}

	st.ReviewState = types.ReviewState(reviewState)
	if st.DueAt, err = parseNullTime(dueAt); err != nil {
		return nil, err
	}
	if st.LastReviewedAt, err = parseNullTime(lastReview); err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func scanMasteryState(row scanner) (*types.MasteryState, error) {
	var (
		st          types.MasteryState
		lastAttempt sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&st.ConceptID, &st.PKnow, &st.PTransit, &st.PSlip, &st.PGuess,
		&st.TotalAttempts, &st.CorrectAttempts, &lastAttempt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mastery state: %w", err)
	}

	if st.LastAttemptAt, err = parseNullTime(lastAttempt); err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// fmtTime renders a timestamp as RFC 3339 UTC, the canonical stored form.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func fmtNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
