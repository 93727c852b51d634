package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/MikeGii/vomm-sub003/model"
)

// MemoryStore is an in-memory Store guarded by a mutex. Mutations run while
// the lock is held, which gives the same isolation the PostgreSQL store gets
// from row locking.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]model.PlayerAttributes
}

// NewMemoryStore creates an empty in-memory player store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{players: make(map[string]model.PlayerAttributes)}
}

// Get retrieves a player's attributes.
func (s *MemoryStore) Get(ctx context.Context, playerID string) (model.PlayerAttributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attrs, ok := s.players[playerID]
	if !ok {
		return model.PlayerAttributes{}, model.NewNotFoundError(
			fmt.Sprintf("player %q not found", playerID),
		)
	}
	return attrs, nil
}

// Create inserts a new player record.
func (s *MemoryStore) Create(ctx context.Context, attrs model.PlayerAttributes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[attrs.PlayerID]; ok {
		return model.NewConflictError(
			fmt.Sprintf("player %q already exists", attrs.PlayerID),
		)
	}
	attrs.Version = 1
	s.players[attrs.PlayerID] = attrs
	return nil
}

// Mutate applies fn to the player's attributes under the write lock.
func (s *MemoryStore) Mutate(ctx context.Context, playerID string, fn func(*model.PlayerAttributes) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attrs, ok := s.players[playerID]
	if !ok {
		return model.NewNotFoundError(
			fmt.Sprintf("player %q not found", playerID),
		)
	}
	if err := fn(&attrs); err != nil {
		return err
	}
	attrs.Version++
	s.players[playerID] = attrs
	return nil
}
