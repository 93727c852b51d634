// Package work implements the work-session lifecycle: the state machine,
// the event injector, the recovery sweep, and the session/event/history
// persistence behind them.
package work

import (
	"context"
	"time"

	"github.com/MikeGii/vomm-sub003/model"
)

// SessionStore persists work sessions, at most one non-terminal session per
// owner. Every state mutation is an atomic conditional update: the write
// succeeds only if the record is still in the expected source state, and a
// lost race surfaces as a CONFLICT error the engine downgrades to a no-op.
type SessionStore interface {
	// Create persists a new session. Returns CONFLICT if the owner already
	// has a live session.
	Create(ctx context.Context, s model.WorkSession) error

	// GetByOwner retrieves the owner's live session. Returns NOT_FOUND if
	// none exists.
	GetByOwner(ctx context.Context, ownerID string) (model.WorkSession, error)

	// Transition atomically moves the session from one state to another.
	// Returns CONFLICT if the session is missing, belongs to a different
	// sessionID, or is no longer in the expected source state.
	Transition(ctx context.Context, ownerID, sessionID, from, to string) error

	// Delete removes the session record. Deleting an absent session is not
	// an error: finalize must stay idempotent.
	Delete(ctx context.Context, ownerID, sessionID string) error

	// FindDue returns in_progress sessions whose endsAt is at or before the
	// cutoff.
	FindDue(ctx context.Context, cutoff time.Time) ([]model.WorkSession, error)

	// FindPendingEvent returns sessions parked in pending_event state.
	FindPendingEvent(ctx context.Context) ([]model.WorkSession, error)

	// FindOverstayed returns non-terminal sessions whose wall-clock age
	// exceeds committedHours plus the grace window. The recovery failsafe
	// force-finalizes these unconditionally.
	FindOverstayed(ctx context.Context, now time.Time, grace time.Duration) ([]model.WorkSession, error)
}

// PendingEventStore persists pending narrative events, keyed per session.
// The owner+session key is deterministic so event creation is at-most-once.
type PendingEventStore interface {
	// CreateIfAbsent persists the event unless one already exists for the
	// same owner and session. Reports whether a record was created.
	CreateIfAbsent(ctx context.Context, evt model.PendingEvent) (bool, error)

	// GetBySession retrieves the pending event for a session. Returns
	// NOT_FOUND if none exists.
	GetBySession(ctx context.Context, ownerID, sessionID string) (model.PendingEvent, error)

	// Complete atomically marks the event completed. Returns CONFLICT
	// unless the event exists and is still pending.
	Complete(ctx context.Context, ownerID, sessionID string) error

	// Delete removes the event record. Absent records are not an error.
	Delete(ctx context.Context, ownerID, sessionID string) error
}

// HistorySink is the append-only target for terminal-session and
// resolved-event snapshots. The state machine only writes; reads serve the
// player-facing history listing.
type HistorySink interface {
	AppendWork(ctx context.Context, entry model.WorkHistoryEntry) error
	AppendEvent(ctx context.Context, entry model.EventHistoryEntry) error

	// ListWork returns the owner's work history, newest first.
	ListWork(ctx context.Context, ownerID string, limit int) ([]model.WorkHistoryEntry, error)
}
