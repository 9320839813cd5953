// apps/go-server/internal/session/registry.go
//
// Concurrency-safe identity → live session table.
// Responsibilities:
//   - Bind a seated player (gameID, playerID) to exactly one live Session.
//   - Track read-only spectators per game.
//   - Keep a reverse index so a closing session can find every game it touched.
//
// Notes:
//   - Binding is "last join wins": Bind returns the session it displaced so
//     the caller can retire it.
//   - Unbind only releases a binding that still points at the given session,
//     so a late disconnect from a superseded connection cannot evict the new one.
//   - The registry never talks to the game; callers serialize game-scoped
//     binding changes through the game's actor.

package session

import (
	"encoding/json"
	"sort"
	"sync"
)

// Envelope is one outbound frame: {"type": ..., "payload": ...}.
// Payload is pre-encoded so the game state can't change under a slow writer.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Session is a live client connection as seen by the game layer.
type Session interface {
	// ID is unique per connection.
	ID() string
	// Send queues env without blocking. It reports false if the frame was
	// dropped (queue full or session closed).
	Send(env Envelope) bool
	// Close ends the connection. Safe to call more than once.
	Close()
}

// Binding describes one registry entry owned by a session.
type Binding struct {
	GameID    string
	PlayerID  string // empty for spectators
	Spectator bool
}

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	players    map[string]map[string]Session // gameID -> playerID -> session
	spectators map[string]map[string]Session // gameID -> sessionID -> session
	bySession  map[string]map[Binding]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		players:    make(map[string]map[string]Session),
		spectators: make(map[string]map[string]Session),
		bySession:  make(map[string]map[Binding]struct{}),
	}
}

// Bind attaches s to a seated identity. If another session was bound it is
// detached and returned; otherwise prev is nil.
func (r *Registry) Bind(gameID, playerID string, s Session) (prev Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seats := r.players[gameID]
	if seats == nil {
		seats = make(map[string]Session)
		r.players[gameID] = seats
	}
	b := Binding{GameID: gameID, PlayerID: playerID}
	if old, ok := seats[playerID]; ok {
		if old.ID() == s.ID() {
			return nil
		}
		r.forget(old.ID(), b)
		prev = old
	}
	seats[playerID] = s
	r.remember(s.ID(), b)
	return prev
}

// Unbind releases playerID's binding only if it still belongs to sessionID.
func (r *Registry) Unbind(gameID, playerID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seats := r.players[gameID]
	cur, ok := seats[playerID]
	if !ok || cur.ID() != sessionID {
		return false
	}
	delete(seats, playerID)
	if len(seats) == 0 {
		delete(r.players, gameID)
	}
	r.forget(sessionID, Binding{GameID: gameID, PlayerID: playerID})
	return true
}

// Watch registers s as a spectator of gameID.
func (r *Registry) Watch(gameID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.spectators[gameID]
	if subs == nil {
		subs = make(map[string]Session)
		r.spectators[gameID] = subs
	}
	subs[s.ID()] = s
	r.remember(s.ID(), Binding{GameID: gameID, Spectator: true})
}

// Unwatch removes a spectator. It reports whether one was removed.
func (r *Registry) Unwatch(gameID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.spectators[gameID]
	if _, ok := subs[sessionID]; !ok {
		return false
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(r.spectators, gameID)
	}
	r.forget(sessionID, Binding{GameID: gameID, Spectator: true})
	return true
}

// PlayerFor returns the identity sessionID is bound to in gameID.
func (r *Registry) PlayerFor(gameID, sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for b := range r.bySession[sessionID] {
		if b.GameID == gameID && !b.Spectator {
			return b.PlayerID, true
		}
	}
	return "", false
}

// Bound returns the session currently bound to a seat, or nil.
func (r *Registry) Bound(gameID, playerID string) Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.players[gameID][playerID]
}

// Bindings lists every entry owned by sessionID, ordered by game id.
func (r *Registry) Bindings(sessionID string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.bySession[sessionID]))
	for b := range r.bySession[sessionID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// Players returns a copy of the playerID → session table for gameID.
func (r *Registry) Players(gameID string) map[string]Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Session, len(r.players[gameID]))
	for id, s := range r.players[gameID] {
		out[id] = s
	}
	return out
}

// Spectators returns the spectators of gameID.
func (r *Registry) Spectators(gameID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.spectators[gameID]))
	for _, s := range r.spectators[gameID] {
		out = append(out, s)
	}
	return out
}

// DropGame removes every binding and spectator of gameID and returns the
// sessions that were attached.
func (r *Registry) DropGame(gameID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for pid, s := range r.players[gameID] {
		r.forget(s.ID(), Binding{GameID: gameID, PlayerID: pid})
		out = append(out, s)
	}
	for _, s := range r.spectators[gameID] {
		r.forget(s.ID(), Binding{GameID: gameID, Spectator: true})
		out = append(out, s)
	}
	delete(r.players, gameID)
	delete(r.spectators, gameID)
	return out
}

// Snapshot is a copy of one game's bindings, taken with Registry.Snapshot.
type Snapshot struct {
	players    map[string]Session
	spectators map[string]Session
}

// Snapshot copies every binding and spectator of gameID.
func (r *Registry) Snapshot(gameID string) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		players:    copySessions(r.players[gameID]),
		spectators: copySessions(r.spectators[gameID]),
	}
}

// Restore replaces the bindings of gameID with those in snap.
func (r *Registry) Restore(gameID string, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for pid, s := range r.players[gameID] {
		r.forget(s.ID(), Binding{GameID: gameID, PlayerID: pid})
	}
	for _, s := range r.spectators[gameID] {
		r.forget(s.ID(), Binding{GameID: gameID, Spectator: true})
	}
	delete(r.players, gameID)
	delete(r.spectators, gameID)

	if len(snap.players) > 0 {
		r.players[gameID] = copySessions(snap.players)
		for pid, s := range snap.players {
			r.remember(s.ID(), Binding{GameID: gameID, PlayerID: pid})
		}
	}
	if len(snap.spectators) > 0 {
		r.spectators[gameID] = copySessions(snap.spectators)
		for _, s := range snap.spectators {
			r.remember(s.ID(), Binding{GameID: gameID, Spectator: true})
		}
	}
}

func copySessions(m map[string]Session) map[string]Session {
	out := make(map[string]Session, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (r *Registry) remember(sessionID string, b Binding) {
	set := r.bySession[sessionID]
	if set == nil {
		set = make(map[Binding]struct{})
		r.bySession[sessionID] = set
	}
	set[b] = struct{}{}
}

func (r *Registry) forget(sessionID string, b Binding) {
	set := r.bySession[sessionID]
	delete(set, b)
	if len(set) == 0 {
		delete(r.bySession, sessionID)
	}
}
