// Package player stores mutable player attributes and applies atomic
// read-modify-write mutations against them.
package player

import (
	"context"

	"github.com/MikeGii/vomm-sub003/model"
)

// Store persists player attributes. Mutate is the only write path the work
// engine uses: the mutation function runs with the record isolated from
// concurrent writers, so invariant checks and the mutation itself are one
// atomic step.
type Store interface {
	// Get retrieves a player's attributes. Returns NOT_FOUND if the player
	// does not exist.
	Get(ctx context.Context, playerID string) (model.PlayerAttributes, error)

	// Create inserts a new player record. Returns CONFLICT if the player
	// already exists.
	Create(ctx context.Context, attrs model.PlayerAttributes) error

	// Mutate loads the player's attributes, applies fn to them, and persists
	// the result atomically. An error from fn aborts the write and is
	// returned unchanged.
	Mutate(ctx context.Context, playerID string, fn func(*model.PlayerAttributes) error) error
}
