package postgres

// Schema is the PostgreSQL schema for the review core. Timestamps are
// TIMESTAMPTZ; the aggregate queries group by the UTC calendar date.
const Schema = `
CREATE TABLE IF NOT EXISTS items (
    id          TEXT PRIMARY KEY,
    front       TEXT NOT NULL,
    back        TEXT NOT NULL,
    item_type   TEXT NOT NULL DEFAULT 'flashcard',
    concept_id  TEXT NOT NULL DEFAULT '',
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS scheduling_states (
    item_id          TEXT PRIMARY KEY,
    stability        DOUBLE PRECISION NOT NULL,
    difficulty       DOUBLE PRECISION NOT NULL,
    repetitions      INTEGER NOT NULL DEFAULT 0,
    lapses           INTEGER NOT NULL DEFAULT 0,
    review_state     TEXT NOT NULL DEFAULT 'new',
    due_at           TIMESTAMPTZ,
    last_reviewed_at TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_scheduling_states_due_at
    ON scheduling_states(due_at);

CREATE TABLE IF NOT EXISTS mastery_states (
    concept_id       TEXT PRIMARY KEY,
    p_know           DOUBLE PRECISION NOT NULL,
    p_transit        DOUBLE PRECISION NOT NULL,
    p_slip           DOUBLE PRECISION NOT NULL,
    p_guess          DOUBLE PRECISION NOT NULL,
    total_attempts   INTEGER NOT NULL DEFAULT 0,
    correct_attempts INTEGER NOT NULL DEFAULT 0,
    last_attempt_at  TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS review_sessions (
    id               TEXT PRIMARY KEY,
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ,
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
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_review_events_session
    ON review_events(session_id);

CREATE INDEX IF NOT EXISTS idx_review_events_created_at
    ON review_events(created_at);

CREATE TABLE IF NOT EXISTS daily_activity (
    date               DATE PRIMARY KEY,
    reviews_count      INTEGER NOT NULL DEFAULT 0,
    correct_count      INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    sessions_count     INTEGER NOT NULL DEFAULT 0,
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS learner_stats (
    id                 INTEGER PRIMARY KEY CHECK (id = 1),
    total_reviews      INTEGER NOT NULL DEFAULT 0,
    total_time_seconds INTEGER NOT NULL DEFAULT 0,
    total_sessions     INTEGER NOT NULL DEFAULT 0,
    last_study_date    TEXT NOT NULL DEFAULT '',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
