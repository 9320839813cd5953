// apps/go-server/internal/store/memory.go
//
// In-memory implementation of the Store interface.
// Used when DB_PATH is empty and in tests.
//
// Characteristics:
//   - Stores deep copies of *game.Game keyed by ID, so callers never share
//     state with the stored snapshot.
//   - Concurrency-safe via RWMutex (concurrent reads allowed, writes exclusive).
//   - State is lost when the process restarts.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
)

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu    sync.RWMutex          // guards games map
	games map[string]*game.Game // keyed by Game.ID
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{games: make(map[string]*game.Game)}
}

// Save upserts a copy of g.
func (m *memory) Save(ctx context.Context, g *game.Game) error {
	c := g.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[g.ID] = c
	return nil
}

// Load returns a copy of the stored game or ErrNotFound.
func (m *memory) Load(ctx context.Context, id string) (*game.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.games[id]; ok {
		return g.Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.games, id)
	return nil
}

func (m *memory) PurgeStale(ctx context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, g := range m.games {
		if Reapable(g.Phase()) && g.LastActivity.Before(before) {
			delete(m.games, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}
