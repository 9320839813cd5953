// Package store persists game snapshots.
//
// The hub treats a Store as a write-behind copy: the in-memory game owned by
// its actor is canonical, and a failed Save never fails a transition.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
)

// ErrNotFound is returned by Load for unknown ids.
var ErrNotFound = errors.New("game not found")

// Store defines the persistence interface for game snapshots.
type Store interface {
	// Load retrieves a game by ID, or ErrNotFound.
	Load(ctx context.Context, id string) (*game.Game, error)

	// Save upserts a snapshot by ID.
	Save(ctx context.Context, g *game.Game) error

	// Delete removes a snapshot. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// PurgeStale deletes LOBBY and FINISHED games idle since before and
	// returns their ids. In-progress games are never purged.
	PurgeStale(ctx context.Context, before time.Time) ([]string, error)
}

// Reapable reports whether games in phase p may be purged when idle.
func Reapable(p game.Phase) bool {
	return p == game.PhaseLobby || p == game.PhaseFinished
}
