package work

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MikeGii/vomm-sub003/model"
)

// MemorySessionStore is an in-memory SessionStore for testing and
// single-instance deployments.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]model.WorkSession // key: owner ID
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]model.WorkSession),
	}
}

// Create persists a new session unless the owner already has one.
func (s *MemorySessionStore) Create(_ context.Context, sess model.WorkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.OwnerID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("owner %q already has a work session", sess.OwnerID),
		)
	}

	sess.Version = 1
	s.sessions[sess.OwnerID] = sess
	return nil
}

// GetByOwner retrieves the owner's live session.
func (s *MemorySessionStore) GetByOwner(_ context.Context, ownerID string) (model.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[ownerID]
	if !exists {
		return model.WorkSession{}, model.NewNotFoundError(
			fmt.Sprintf("no work session for owner %q", ownerID),
		)
	}
	return sess, nil
}

// Transition atomically moves the session between states.
func (s *MemorySessionStore) Transition(_ context.Context, ownerID, sessionID, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[ownerID]
	if !exists || sess.SessionID != sessionID || sess.State != from {
		return model.NewConflictError(
			fmt.Sprintf("session %q is not in state %q", sessionID, from),
		)
	}

	sess.State = to
	sess.Version++
	s.sessions[ownerID] = sess
	return nil
}

// Delete removes the session record. Absent records are not an error.
func (s *MemorySessionStore) Delete(_ context.Context, ownerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[ownerID]
	if !exists || sess.SessionID != sessionID {
		return nil
	}
	delete(s.sessions, ownerID)
	return nil
}

// FindDue returns in_progress sessions at or past their end time.
func (s *MemorySessionStore) FindDue(_ context.Context, cutoff time.Time) ([]model.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkSession
	for _, sess := range s.sessions {
		if sess.State != model.SessionInProgress {
			continue
		}
		if sess.EndsAt.After(cutoff) {
			continue
		}
		result = append(result, sess)
	}
	sortByEndsAt(result)
	return result, nil
}

// FindPendingEvent returns sessions parked in pending_event state.
func (s *MemorySessionStore) FindPendingEvent(_ context.Context) ([]model.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkSession
	for _, sess := range s.sessions {
		if sess.State == model.SessionPendingEvent {
			result = append(result, sess)
		}
	}
	sortByEndsAt(result)
	return result, nil
}

// FindOverstayed returns non-terminal sessions older than committedHours
// plus the grace window.
func (s *MemorySessionStore) FindOverstayed(_ context.Context, now time.Time, grace time.Duration) ([]model.WorkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkSession
	for _, sess := range s.sessions {
		if model.IsTerminalState(sess.State) {
			continue
		}
		deadline := sess.StartedAt.Add(time.Duration(sess.CommittedHours)*time.Hour + grace)
		if now.After(deadline) {
			result = append(result, sess)
		}
	}
	sortByEndsAt(result)
	return result, nil
}

// Len returns the number of live sessions. For testing.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func sortByEndsAt(sessions []model.WorkSession) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].EndsAt.Before(sessions[j].EndsAt)
	})
}

// MemoryEventStore is an in-memory PendingEventStore.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]model.PendingEvent // key: ownerID + "/" + sessionID
}

// NewMemoryEventStore creates a new in-memory pending-event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		events: make(map[string]model.PendingEvent),
	}
}

func eventKey(ownerID, sessionID string) string {
	return ownerID + "/" + sessionID
}

// CreateIfAbsent persists the event unless one exists for the same session.
func (s *MemoryEventStore) CreateIfAbsent(_ context.Context, evt model.PendingEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(evt.OwnerID, evt.SessionID)
	if _, exists := s.events[key]; exists {
		return false, nil
	}
	s.events[key] = evt
	return true, nil
}

// GetBySession retrieves the pending event for a session.
func (s *MemoryEventStore) GetBySession(_ context.Context, ownerID, sessionID string) (model.PendingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, exists := s.events[eventKey(ownerID, sessionID)]
	if !exists {
		return model.PendingEvent{}, model.NewNotFoundError(
			fmt.Sprintf("no pending event for session %q", sessionID),
		)
	}
	return evt, nil
}

// Complete atomically marks the event completed.
func (s *MemoryEventStore) Complete(_ context.Context, ownerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(ownerID, sessionID)
	evt, exists := s.events[key]
	if !exists || evt.Status != model.EventPending {
		return model.NewConflictError(
			fmt.Sprintf("event for session %q is not pending", sessionID),
		)
	}

	now := time.Now().UTC()
	evt.Status = model.EventCompleted
	evt.RespondedAt = &now
	s.events[key] = evt
	return nil
}

// Delete removes the event record. Absent records are not an error.
func (s *MemoryEventStore) Delete(_ context.Context, ownerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventKey(ownerID, sessionID))
	return nil
}

// Len returns the number of event records. For testing.
func (s *MemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// MemoryHistory is an in-memory HistorySink.
type MemoryHistory struct {
	mu     sync.RWMutex
	work   map[string][]model.WorkHistoryEntry  // key: owner ID
	events map[string][]model.EventHistoryEntry // key: owner ID
}

// NewMemoryHistory creates a new in-memory history sink.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		work:   make(map[string][]model.WorkHistoryEntry),
		events: make(map[string][]model.EventHistoryEntry),
	}
}

// AppendWork records a terminal-session snapshot.
func (s *MemoryHistory) AppendWork(_ context.Context, entry model.WorkHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.work[entry.OwnerID] = append(s.work[entry.OwnerID], entry)
	return nil
}

// AppendEvent records a resolved-event snapshot.
func (s *MemoryHistory) AppendEvent(_ context.Context, entry model.EventHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[entry.OwnerID] = append(s.events[entry.OwnerID], entry)
	return nil
}

// ListWork returns the owner's work history, newest first.
func (s *MemoryHistory) ListWork(_ context.Context, ownerID string, limit int) ([]model.WorkHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.work[ownerID]
	result := make([]model.WorkHistoryEntry, len(entries))
	copy(result, entries)
	sort.Slice(result, func(i, j int) bool {
		return result[i].FinishedAt.After(result[j].FinishedAt)
	})
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// WorkEntries returns all work history entries for an owner in append order.
// For testing.
func (s *MemoryHistory) WorkEntries(ownerID string) []model.WorkHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.WorkHistoryEntry, len(s.work[ownerID]))
	copy(entries, s.work[ownerID])
	return entries
}

// EventEntries returns all event history entries for an owner in append
// order. For testing.
func (s *MemoryHistory) EventEntries(ownerID string) []model.EventHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]model.EventHistoryEntry, len(s.events[ownerID]))
	copy(entries, s.events[ownerID])
	return entries
}
