package work

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeGii/vomm-sub003/model"
)

// PgSessionStore is a PostgreSQL-backed SessionStore using pgx/v5. The
// work_sessions table keys live sessions by owner_id (primary key), which
// enforces the one-session-per-owner invariant at the database level, and
// every state change is a conditional UPDATE checked via RowsAffected.
type PgSessionStore struct {
	pool *pgxpool.Pool
}

// NewPgSessionStore creates a new PostgreSQL session store.
func NewPgSessionStore(pool *pgxpool.Pool) *PgSessionStore {
	return &PgSessionStore{pool: pool}
}

const sessionColumns = `owner_id, session_id, activity_id, region, department,
	started_at, ends_at, committed_hours, expected_exp, expected_money,
	state, is_accelerated, version`

// Create inserts a new session. The owner_id primary key turns a concurrent
// double-start into a unique violation reported as CONFLICT.
func (s *PgSessionStore) Create(ctx context.Context, sess model.WorkSession) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO work_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
		ON CONFLICT (owner_id) DO NOTHING`,
		sess.OwnerID, sess.SessionID, sess.ActivityID, sess.Region, sess.Department,
		sess.StartedAt, sess.EndsAt, sess.CommittedHours,
		sess.ExpectedReward.Experience, sess.ExpectedReward.Money,
		sess.State, sess.IsAccelerated,
	)
	if err != nil {
		return fmt.Errorf("insert work session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("owner %q already has a work session", sess.OwnerID),
		)
	}
	return nil
}

// GetByOwner retrieves the owner's live session.
func (s *PgSessionStore) GetByOwner(ctx context.Context, ownerID string) (model.WorkSession, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions
		WHERE owner_id = $1`,
		ownerID,
	)
	sess, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return model.WorkSession{}, model.NewNotFoundError(
			fmt.Sprintf("no work session for owner %q", ownerID),
		)
	}
	if err != nil {
		return model.WorkSession{}, fmt.Errorf("query work session: %w", err)
	}
	return sess, nil
}

// Transition atomically moves the session between states.
func (s *PgSessionStore) Transition(ctx context.Context, ownerID, sessionID, from, to string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_sessions
		SET state = $1, version = version + 1
		WHERE owner_id = $2 AND session_id = $3 AND state = $4`,
		to, ownerID, sessionID, from,
	)
	if err != nil {
		return fmt.Errorf("transition work session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("session %q is not in state %q", sessionID, from),
		)
	}
	return nil
}

// Delete removes the session record. Absent records are not an error.
func (s *PgSessionStore) Delete(ctx context.Context, ownerID, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM work_sessions
		WHERE owner_id = $1 AND session_id = $2`,
		ownerID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete work session: %w", err)
	}
	return nil
}

// FindDue returns in_progress sessions at or past their end time.
func (s *PgSessionStore) FindDue(ctx context.Context, cutoff time.Time) ([]model.WorkSession, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions
		WHERE state = 'in_progress' AND ends_at <= $1
		ORDER BY ends_at ASC`,
		cutoff,
	)
}

// FindPendingEvent returns sessions parked in pending_event state.
func (s *PgSessionStore) FindPendingEvent(ctx context.Context) ([]model.WorkSession, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions
		WHERE state = 'pending_event'
		ORDER BY ends_at ASC`,
	)
}

// FindOverstayed returns non-terminal sessions older than committedHours
// plus the grace window.
func (s *PgSessionStore) FindOverstayed(ctx context.Context, now time.Time, grace time.Duration) ([]model.WorkSession, error) {
	return s.querySessions(ctx, `
		SELECT `+sessionColumns+`
		FROM work_sessions
		WHERE state IN ('in_progress', 'pending_event')
		  AND started_at + (committed_hours * interval '1 hour') + $2 < $1
		ORDER BY ends_at ASC`,
		now, grace,
	)
}

// HealthCheck pings the pool. Used by the readiness endpoint.
func (s *PgSessionStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgSessionStore) querySessions(ctx context.Context, query string, args ...any) ([]model.WorkSession, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query work sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.WorkSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (model.WorkSession, error) {
	var sess model.WorkSession
	err := row.Scan(
		&sess.OwnerID, &sess.SessionID, &sess.ActivityID, &sess.Region, &sess.Department,
		&sess.StartedAt, &sess.EndsAt, &sess.CommittedHours,
		&sess.ExpectedReward.Experience, &sess.ExpectedReward.Money,
		&sess.State, &sess.IsAccelerated, &sess.Version,
	)
	return sess, err
}

// PgEventStore is a PostgreSQL-backed PendingEventStore. The
// (owner_id, session_id) primary key is the deterministic at-most-once
// guard: a second injection attempt for the same session inserts nothing.
type PgEventStore struct {
	pool *pgxpool.Pool
}

// NewPgEventStore creates a new PostgreSQL pending-event store.
func NewPgEventStore(pool *pgxpool.Pool) *PgEventStore {
	return &PgEventStore{pool: pool}
}

// CreateIfAbsent persists the event unless one exists for the same session.
func (s *PgEventStore) CreateIfAbsent(ctx context.Context, evt model.PendingEvent) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pending_events (owner_id, session_id, event_id, status, triggered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, session_id) DO NOTHING`,
		evt.OwnerID, evt.SessionID, evt.EventID, evt.Status, evt.TriggeredAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert pending event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetBySession retrieves the pending event for a session.
func (s *PgEventStore) GetBySession(ctx context.Context, ownerID, sessionID string) (model.PendingEvent, error) {
	var evt model.PendingEvent
	err := s.pool.QueryRow(ctx, `
		SELECT owner_id, session_id, event_id, status, triggered_at, responded_at
		FROM pending_events
		WHERE owner_id = $1 AND session_id = $2`,
		ownerID, sessionID,
	).Scan(&evt.OwnerID, &evt.SessionID, &evt.EventID, &evt.Status, &evt.TriggeredAt, &evt.RespondedAt)
	if err == pgx.ErrNoRows {
		return model.PendingEvent{}, model.NewNotFoundError(
			fmt.Sprintf("no pending event for session %q", sessionID),
		)
	}
	if err != nil {
		return model.PendingEvent{}, fmt.Errorf("query pending event: %w", err)
	}
	return evt, nil
}

// Complete atomically marks the event completed.
func (s *PgEventStore) Complete(ctx context.Context, ownerID, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_events
		SET status = 'completed', responded_at = $1
		WHERE owner_id = $2 AND session_id = $3 AND status = 'pending'`,
		time.Now().UTC(), ownerID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("complete pending event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("event for session %q is not pending", sessionID),
		)
	}
	return nil
}

// Delete removes the event record. Absent records are not an error.
func (s *PgEventStore) Delete(ctx context.Context, ownerID, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM pending_events
		WHERE owner_id = $1 AND session_id = $2`,
		ownerID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete pending event: %w", err)
	}
	return nil
}

// PgHistory is a PostgreSQL-backed HistorySink.
type PgHistory struct {
	pool *pgxpool.Pool
}

// NewPgHistory creates a new PostgreSQL history sink.
func NewPgHistory(pool *pgxpool.Pool) *PgHistory {
	return &PgHistory{pool: pool}
}

// AppendWork records a terminal-session snapshot.
func (s *PgHistory) AppendWork(ctx context.Context, entry model.WorkHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_history (
			id, owner_id, session_id, activity_id, activity_name,
			region, department, hours, started_at, finished_at,
			reward_exp, reward_money, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.OwnerID, entry.SessionID, entry.ActivityID, entry.ActivityName,
		entry.Region, entry.Department, entry.Hours, entry.StartedAt, entry.FinishedAt,
		entry.Reward.Experience, entry.Reward.Money, entry.Outcome,
	)
	if err != nil {
		return fmt.Errorf("insert work history: %w", err)
	}
	return nil
}

// AppendEvent records a resolved-event snapshot.
func (s *PgHistory) AppendEvent(ctx context.Context, entry model.EventHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_history (
			id, owner_id, session_id, event_id, choice_id, result_text,
			applied_health, applied_money, applied_reputation, applied_experience,
			resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.OwnerID, entry.SessionID, entry.EventID, entry.ChoiceID, entry.ResultText,
		entry.Applied.Health, entry.Applied.Money, entry.Applied.Reputation, entry.Applied.Experience,
		entry.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event history: %w", err)
	}
	return nil
}

// ListWork returns the owner's work history, newest first.
func (s *PgHistory) ListWork(ctx context.Context, ownerID string, limit int) ([]model.WorkHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, session_id, activity_id, activity_name,
		       region, department, hours, started_at, finished_at,
		       reward_exp, reward_money, outcome
		FROM work_history
		WHERE owner_id = $1
		ORDER BY finished_at DESC
		LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query work history: %w", err)
	}
	defer rows.Close()

	var entries []model.WorkHistoryEntry
	for rows.Next() {
		var e model.WorkHistoryEntry
		if err := rows.Scan(
			&e.ID, &e.OwnerID, &e.SessionID, &e.ActivityID, &e.ActivityName,
			&e.Region, &e.Department, &e.Hours, &e.StartedAt, &e.FinishedAt,
			&e.Reward.Experience, &e.Reward.Money, &e.Outcome,
		); err != nil {
			return nil, fmt.Errorf("scan work history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
