// Package postgres provides a PostgreSQL-backed journal.Store.
//
// Sessions and per-question results live in two tables created by
// [Migrate]; spectra and derived scores are stored as JSONB.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.AppendResult(ctx, record)
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/restquest/internal/journal"
)

const ddl = `
CREATE TABLE IF NOT EXISTS questionnaire_sessions (
    id              TEXT         PRIMARY KEY,
    started_at      TIMESTAMPTZ  NOT NULL,
    finished_at     TIMESTAMPTZ,
    questions       INTEGER      NOT NULL DEFAULT 0,
    overall         JSONB        NOT NULL DEFAULT '{}',
    recommendation  TEXT         NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS question_results (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    idx          INTEGER      NOT NULL,
    question     TEXT         NOT NULL,
    transcript   TEXT         NOT NULL DEFAULT '',
    spectrum     JSONB        NOT NULL DEFAULT '{}',
    dominant     TEXT         NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    derived      JSONB        NOT NULL DEFAULT '{}',
    forced       BOOLEAN      NOT NULL DEFAULT false,
    audio_path   TEXT         NOT NULL DEFAULT '',
    recorded_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_question_results_session
    ON question_results (session_id, idx);
`

// Migrate creates the tables if they do not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Store implements journal.Store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks connectivity; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// AppendResult implements journal.Store. Re-appending the same
// (session, index) replaces the earlier row.
func (s *Store) AppendResult(ctx context.Context, r journal.Record) error {
	spectrum, err := json.Marshal(r.Spectrum)
	if err != nil {
		return fmt.Errorf("postgres store: marshal spectrum: %w", err)
	}
	derived, err := json.Marshal(r.Derived)
	if err != nil {
		return fmt.Errorf("postgres store: marshal derived: %w", err)
	}
	const q = `
INSERT INTO question_results
    (session_id, idx, question, transcript, spectrum, dominant, confidence, derived, forced, audio_path, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, now()))
ON CONFLICT (session_id, idx) DO UPDATE SET
    question = EXCLUDED.question,
    transcript = EXCLUDED.transcript,
    spectrum = EXCLUDED.spectrum,
    dominant = EXCLUDED.dominant,
    confidence = EXCLUDED.confidence,
    derived = EXCLUDED.derived,
    forced = EXCLUDED.forced,
    audio_path = EXCLUDED.audio_path,
    recorded_at = EXCLUDED.recorded_at`
	var ts any
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp
	}
	if _, err := s.pool.Exec(ctx, q, r.SessionID, r.Index, r.Question, r.Transcript,
		spectrum, r.Dominant, r.Confidence, derived, r.Forced, r.AudioPath, ts); err != nil {
		return fmt.Errorf("postgres store: append result: %w", err)
	}
	return nil
}

// SaveSession implements journal.Store as an upsert on the session id.
func (s *Store) SaveSession(ctx context.Context, info journal.SessionInfo) error {
	overall, err := json.Marshal(info.Overall)
	if err != nil {
		return fmt.Errorf("postgres store: marshal overall: %w", err)
	}
	var finished any
	if !info.FinishedAt.IsZero() {
		finished = info.FinishedAt
	}
	const q = `
INSERT INTO questionnaire_sessions (id, started_at, finished_at, questions, overall, recommendation)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    finished_at = EXCLUDED.finished_at,
    questions = EXCLUDED.questions,
    overall = EXCLUDED.overall,
    recommendation = EXCLUDED.recommendation`
	if _, err := s.pool.Exec(ctx, q, info.ID, info.StartedAt, finished, info.Questions, overall, info.Recommendation); err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// ListResults returns a session's results ordered by question index.
func (s *Store) ListResults(ctx context.Context, sessionID string) ([]journal.Record, error) {
	const q = `
SELECT session_id, idx, question, transcript, spectrum, dominant, confidence, derived, forced, audio_path, recorded_at
FROM question_results
WHERE session_id = $1
ORDER BY idx`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list results: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (journal.Record, error) {
		var (
			r                 journal.Record
			spectrum, derived []byte
		)
		if err := row.Scan(&r.SessionID, &r.Index, &r.Question, &r.Transcript, &spectrum,
			&r.Dominant, &r.Confidence, &derived, &r.Forced, &r.AudioPath, &r.Timestamp); err != nil {
			return r, err
		}
		if err := json.Unmarshal(spectrum, &r.Spectrum); err != nil {
			return r, fmt.Errorf("decode spectrum: %w", err)
		}
		if err := json.Unmarshal(derived, &r.Derived); err != nil {
			return r, fmt.Errorf("decode derived: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan results: %w", err)
	}
	return records, nil
}

var _ journal.Store = (*Store)(nil)
