// Package model holds the domain types shared by the work-session core:
// sessions, pending events, player attributes, activity and event
// definitions, and the error envelope.
package model

import "time"

// Session states. A session only moves forward:
// in_progress → pending_event → completed, in_progress → completed, or
// in_progress → cancelled. No transition reopens a terminal session.
const (
	SessionInProgress   = "in_progress"
	SessionPendingEvent = "pending_event"
	SessionCompleted    = "completed"
	SessionCancelled    = "cancelled"
)

// IsTerminalState reports whether a session state is terminal.
func IsTerminalState(state string) bool {
	return state == SessionCompleted || state == SessionCancelled
}

// WorkSession is the persisted record of an in-flight or pending-completion
// work shift. A player has at most one non-terminal session at any time; the
// stores enforce this by keying live sessions per owner.
type WorkSession struct {
	SessionID      string    `json:"session_id"`
	OwnerID        string    `json:"owner_id"`
	ActivityID     string    `json:"activity_id"`
	Region         string    `json:"region"`
	Department     string    `json:"department"`
	StartedAt      time.Time `json:"started_at"`
	EndsAt         time.Time `json:"ends_at"`
	CommittedHours int       `json:"committed_hours"`
	ExpectedReward Reward    `json:"expected_reward"`
	State          string    `json:"state"`
	IsAccelerated  bool      `json:"is_accelerated"`
	Version        int       `json:"version"`
}

// PendingEvent is a narrative event spawned at the completion boundary of a
// work session. It exists iff its session is in pending_event state, and is
// removed in the same logical operation that finalizes the session.
type PendingEvent struct {
	EventID     string     `json:"event_id"`
	OwnerID     string     `json:"owner_id"`
	SessionID   string     `json:"session_id"`
	Status      string     `json:"status"` // "pending" or "completed"
	TriggeredAt time.Time  `json:"triggered_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Pending event statuses.
const (
	EventPending   = "pending"
	EventCompleted = "completed"
)

// Work history outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// WorkHistoryEntry is the immutable snapshot of a terminal session. Created
// exactly once per completed or cancelled session.
type WorkHistoryEntry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	SessionID    string    `json:"session_id"`
	ActivityID   string    `json:"activity_id"`
	ActivityName string    `json:"activity_name"`
	Region       string    `json:"region"`
	Department   string    `json:"department"`
	Hours        int       `json:"hours"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Reward       Reward    `json:"reward"`
	Outcome      string    `json:"outcome"` // completed or cancelled
}

// EventHistoryEntry records a resolved narrative event and the choice taken.
type EventHistoryEntry struct {
	ID         string       `json:"id"`
	OwnerID    string       `json:"owner_id"`
	SessionID  string       `json:"session_id"`
	EventID    string       `json:"event_id"`
	ChoiceID   string       `json:"choice_id"`
	ResultText string       `json:"result_text"`
	Applied    Consequences `json:"applied"`
	ResolvedAt time.Time    `json:"resolved_at"`
}
