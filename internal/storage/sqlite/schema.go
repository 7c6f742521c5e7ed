package sqlite

// Schema is the SQLite schema for the review core. All timestamps are
// stored as RFC 3339 UTC strings so that substr(col, 1, 10) yields the
// YYYY-MM-DD date used by the aggregate queries.
const Schema = `
CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    front       TEXT NOT NULL,
    back        TEXT NOT NULL,
    item_type   TEXT NOT NULL DEFAULT 'flashcard',
    concept_id  TEXT NOT NULL DEFAULT '',
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduling_states (
    item_id          TEXT PRIMARY KEY,
    stability        REAL NOT NULL,
    difficulty       REAL NOT NULL,
    repetitions      INTEGER NOT NULL DEFAULT 0,
    lapses           INTEGER NOT NULL DEFAULT 0,
    review_state     TEXT NOT NULL DEFAULT 'new',
    due_at           TEXT,
    last_reviewed_at TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scheduling_states_due_at
    ON scheduling_states(due_at);

CREATE TABLE IF NOT EXISTS mastery_states (
    concept_id       TEXT PRIMARY KEY,
    p_know           REAL NOT NULL,
    p_transit        REAL NOT NULL,
    p_slip           REAL NOT NULL,
    p_guess          REAL NOT NULL,
    total_attempts   INTEGER NOT NULL DEFAULT 0,
    correct_attempts INTEGER NOT NULL DEFAULT 0,
    last_attempt_at  TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_sessions (
    id               TEXT PRIMARY KEY,
    started_at       TEXT NOT NULL,
    ended_at         TEXT,
    total_reviews    INTEGER NOT NULL DEFAULT 0,
    correct_reviews  INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS review_events (
    id               TEXT PRIMARY KEY,
    session_id       TEXT NOT NULL,
    item_id          TEXT NOT NULL,
    item_type        TEXT NOT NULL DEFAULT 'flashcard',
    grade            INTEGER NOT NULL,
    response_time_ms INTEGER,
    created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_review_events_session
    ON review_events(session_id);

CREATE INDEX IF NOT EXISTS idx_review_events_created_at
    ON review_events(created_at);

CREATE TABLE IF NOT EXISTS daily_activity (
    date               TEXT PRIMARY KEY,
    reviews_count      INTEGER NOT NULL DEFAULT 0,
    correct_count      INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    sessions_count     INTEGER NOT NULL DEFAULT 0,
    updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learner_stats (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    total_reviews      INTEGER NOT NULL DEFAULT 0,
    total_time_seconds INTEGER NOT NULL DEFAULT 0,
    total_sessions     INTEGER NOT NULL DEFAULT 0,
    last_study_date    TEXT NOT NULL DEFAULT '',
    updated_at         TEXT NOT NULL
);
`
