// apps/go-server/internal/hub/hub.go
//
// Game hub: routes session actions to per-game actors.
// Responsibilities:
//   - Create games and load persisted ones on demand (deduplicated loads).
//   - Join as player, reconnect (last join wins), or spectate.
//   - Run start / bid / pass / select-card / leave for the acting session.
//   - Release a closed session's seats without touching its turn state.
//   - Report every rejection to the acting session only.
//
// Notes:
//   - Every game-scoped binding change and engine call happens on the game's
//     actor, so a disconnect and a reconnect for the same seat never interleave.
//   - Storage is write-behind; see persist.go.

package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/robalobadob/forsale/apps/go-server/internal/broadcast"
	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/session"
	"github.com/robalobadob/forsale/apps/go-server/internal/store"
	"github.com/robalobadob/forsale/apps/go-server/internal/ticket"
)

// ResultRecorder stores the standings of finished games.
type ResultRecorder interface {
	RecordResults(ctx context.Context, gameID string, finishedAt time.Time, results []game.Result) error
}

// Options configures a Hub. Store is required; the rest is optional.
type Options struct {
	Store             store.Store
	Stats             ResultRecorder
	Tickets           *ticket.Issuer
	DefaultMaxPlayers int
	SaveTimeout       time.Duration
	StaleAfter        time.Duration
	Now               func() time.Time
}

// Hub is safe for concurrent use.
type Hub struct {
	opts    Options
	reg     *session.Registry
	out     *broadcast.Dispatcher
	persist *persister
	log     zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*room
	loads singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts a Hub. Call Close to stop its goroutines.
func New(opts Options) *Hub {
	if opts.DefaultMaxPlayers == 0 {
		opts.DefaultMaxPlayers = game.DefaultMaxPlayers
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	reg := session.NewRegistry()
	l := log.With().Str("component", "hub").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		opts:    opts,
		reg:     reg,
		out:     broadcast.New(reg),
		persist: newPersister(opts.Store, opts.SaveTimeout, l),
		log:     l,
		rooms:   make(map[string]*room),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.persist.run(ctx)
	}()
	return h
}

// Close stops every actor and flushes pending writes.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}

// Flush writes pending snapshots now.
func (h *Hub) Flush() { h.persist.flush() }

// Dispatcher exposes the broadcast dispatcher used for this hub's sessions.
func (h *Hub) Dispatcher() *broadcast.Dispatcher { return h.out }

// Registry exposes the session bindings.
func (h *Hub) Registry() *session.Registry { return h.reg }

func (h *Hub) gameOpts() []game.Option { return []game.Option{game.WithClock(h.opts.Now)} }

// ------------------------------ rooms --------------------------------------

// room returns the live actor for id, loading the game from storage if needed.
func (h *Hub) room(ctx context.Context, id string) (*room, error) {
	id = game.NormalizeID(id)
	if id == "" {
		return nil, ErrGameNotFound
	}
	if r := h.live(id); r != nil {
		return r, nil
	}
	v, err, _ := h.loads.Do(id, func() (interface{}, error) {
		if r := h.live(id); r != nil {
			return r, nil
		}
		g, err := h.opts.Store.Load(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrGameNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		// Nobody is connected to a game that was just read back from storage.
		for _, p := range g.Players {
			p.IsConnected = false
		}
		h.log.Info().Str("gameId", id).Str("phase", string(g.Phase())).Msg("game loaded from store")
		r, _ := h.adopt(g)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*room), nil
}

func (h *Hub) live(id string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[id]
}

// adopt starts an actor for g unless one already owns its id, in which case
// the existing actor is returned with created=false.
func (h *Hub) adopt(g *game.Game) (r *room, created bool) {
	g.Configure(h.gameOpts()...)
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[g.ID]; ok {
		return r, false
	}
	r = newRoom(h, g)
	h.rooms[g.ID] = r
	h.wg.Add(1)
	go r.run()
	return r, true
}

// LiveGames reports how many games have a running actor.
func (h *Hub) LiveGames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) liveRooms() []*room {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Snapshot returns a copy of a game's committed state.
func (h *Hub) Snapshot(ctx context.Context, id string) (*game.Game, error) {
	r, err := h.room(ctx, id)
	if err != nil {
		return nil, err
	}
	var snap *game.Game
	err = r.do(ctx, func(g *game.Game) error {
		snap = g.Clone()
		return nil
	})
	return snap, err
}

// ------------------------------ actions ------------------------------------

// SeatInfo is sent to a session once it holds a seat.
type SeatInfo struct {
	GameID    string     `json:"gameId"`
	PlayerID  string     `json:"playerId"`
	Username  string     `json:"username"`
	IsHost    bool       `json:"isHost"`
	Ticket    string     `json:"ticket,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Create opens a new lobby hosted by s. maxPlayers 0 selects the default.
func (h *Hub) Create(ctx context.Context, s session.Session, username string, maxPlayers int, autoStart bool) (string, error) {
	if maxPlayers == 0 {
		maxPlayers = h.opts.DefaultMaxPlayers
	}
	g, err := game.New(username, maxPlayers, autoStart, h.gameOpts()...)
	if err != nil {
		h.reject(s, "", "", err)
		return "", err
	}
	r, created := h.adopt(g)
	for !created {
		g.ID = game.NewID()
		r, created = h.adopt(g)
	}
	id := g.ID
	err = r.do(ctx, func(g *game.Game) error {
		host := g.Player(g.HostID)
		h.reg.Bind(g.ID, host.ID, s)
		r.commit(nil)
		h.seat(s, g, host)
		h.log.Info().Str("gameId", g.ID).Str("host", host.Username).Int("maxPlayers", g.MaxPlayers).Bool("autoStart", g.AutoStart).Msg("game created")
		return nil
	})
	if err != nil {
		h.discard(r)
		h.reject(s, id, "", err)
		return "", err
	}
	return id, nil
}

// discard retires a room whose creation did not complete. The creating
// command may still be queued, so retirement goes through the actor too.
func (h *Hub) discard(r *room) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.SaveTimeout)
	defer cancel()
	err := r.do(ctx, func(*game.Game) error {
		r.retire()
		return nil
	})
	if err != nil && !errors.Is(err, ErrGameNotFound) {
		h.log.Warn().Err(err).Str("gameId", r.id).Msg("discard unfinished game")
	}
}

// JoinRequest is the payload of a join. Ticket, when set, supplies the game
// id and username.
type JoinRequest struct {
	GameID    string
	Username  string
	Spectator bool
	Ticket    string
}

// Join seats s as a new player, reconnects it to an existing seat, or
// attaches it as a spectator.
func (h *Hub) Join(ctx context.Context, s session.Session, req JoinRequest) error {
	if req.Ticket != "" && h.opts.Tickets != nil {
		c, err := h.opts.Tickets.Parse(req.Ticket)
		if err != nil {
			h.reject(s, req.GameID, "", err)
			return err
		}
		req.GameID, req.Username = c.GameID, c.Username()
	}
	r, err := h.room(ctx, req.GameID)
	if err != nil {
		h.reject(s, game.NormalizeID(req.GameID), "", err)
		return err
	}
	err = r.do(ctx, func(g *game.Game) error {
		if req.Spectator {
			h.reg.Watch(g.ID, s)
			h.out.Spectate(s, g)
			return nil
		}

		name, err := game.NormalizeUsername(req.Username)
		if err != nil {
			return err
		}
		if pid, ok := h.reg.PlayerFor(g.ID, s.ID()); ok {
			if p := g.Player(pid); p == nil || p.Username != name {
				return ErrAlreadySeated
			}
		}

		var (
			p      *game.Player
			events []game.Event
		)
		if g.PlayerByUsername(name) != nil {
			p, events, err = g.Reconnect(name)
		} else {
			p, events, err = g.AddPlayer(name)
		}
		if err != nil {
			return err
		}

		h.reg.Unwatch(g.ID, s.ID())
		if prev := h.reg.Bind(g.ID, p.ID, s); prev != nil {
			h.out.Supersede(prev, g.ID)
			if len(h.reg.Bindings(prev.ID())) == 0 {
				prev.Close()
			}
			h.log.Info().Str("gameId", g.ID).Str("player", p.Username).Msg("session superseded")
		}
		r.commit(events)
		h.seat(s, g, p)
		return nil
	})
	if err != nil {
		h.reject(s, r.id, "", err)
	}
	return err
}

// Start moves the lobby into the buying phase. Host only.
func (h *Hub) Start(ctx context.Context, s session.Session, gameID string) error {
	return h.act(ctx, s, gameID, func(g *game.Game, pid string) ([]game.Event, error) {
		return g.Start(pid)
	})
}

// Bid places a bid for the acting session's seat.
func (h *Hub) Bid(ctx context.Context, s session.Session, gameID string, amount int) error {
	return h.act(ctx, s, gameID, func(g *game.Game, pid string) ([]game.Event, error) {
		return g.Bid(pid, amount)
	})
}

// Pass drops the acting seat out of the current auction.
func (h *Hub) Pass(ctx context.Context, s session.Session, gameID string) error {
	return h.act(ctx, s, gameID, func(g *game.Game, pid string) ([]game.Event, error) {
		return g.Pass(pid)
	})
}

// SelectCard records the acting seat's pick for the selling round.
func (h *Hub) SelectCard(ctx context.Context, s session.Session, gameID string, cardID int) error {
	return h.act(ctx, s, gameID, func(g *game.Game, pid string) ([]game.Event, error) {
		return g.SelectCard(pid, cardID)
	})
}

// Leave detaches s from a game. A seated player keeps the seat for a later
// reconnect; a spectator simply stops watching.
func (h *Hub) Leave(ctx context.Context, s session.Session, gameID string) error {
	r, err := h.room(ctx, gameID)
	if err != nil {
		h.reject(s, game.NormalizeID(gameID), "", err)
		return err
	}
	err = r.do(ctx, func(g *game.Game) error {
		if h.reg.Unwatch(g.ID, s.ID()) {
			return nil
		}
		return h.release(r, g, s.ID(), "left")
	})
	if err != nil {
		h.reject(s, r.id, "", err)
	}
	return err
}

// Disconnect releases every seat and spectator slot held by a closed
// session. It never loads games and never reports errors to s.
func (h *Hub) Disconnect(ctx context.Context, s session.Session) {
	for _, b := range h.reg.Bindings(s.ID()) {
		r := h.live(b.GameID)
		if r == nil {
			continue
		}
		err := r.do(ctx, func(g *game.Game) error {
			if b.Spectator {
				h.reg.Unwatch(g.ID, s.ID())
				return nil
			}
			if err := h.release(r, g, s.ID(), "disconnected"); !errors.Is(err, ErrNotSeated) {
				return err
			}
			return nil
		})
		if err != nil {
			h.log.Warn().Err(err).Str("gameId", b.GameID).Str("session", s.ID()).Msg("disconnect")
		}
	}
}

// release unbinds sessionID's seat and marks the player disconnected.
// Must run on the actor.
func (h *Hub) release(r *room, g *game.Game, sessionID, reason string) error {
	pid, ok := h.reg.PlayerFor(g.ID, sessionID)
	if !ok || !h.reg.Unbind(g.ID, pid, sessionID) {
		return ErrNotSeated
	}
	events, err := g.Disconnect(pid, reason)
	if err != nil {
		return err
	}
	r.commit(events)
	return nil
}

// act runs a seat-scoped engine operation on the game's actor.
func (h *Hub) act(ctx context.Context, s session.Session, gameID string, op func(g *game.Game, playerID string) ([]game.Event, error)) error {
	r, err := h.room(ctx, gameID)
	if err != nil {
		h.reject(s, game.NormalizeID(gameID), "", err)
		return err
	}
	return r.do(ctx, func(g *game.Game) error {
		pid, ok := h.reg.PlayerFor(g.ID, s.ID())
		if !ok {
			h.reject(s, g.ID, "", ErrNotSeated)
			return ErrNotSeated
		}
		events, err := op(g, pid)
		if err != nil {
			h.reject(s, g.ID, pid, err)
			return err
		}
		r.commit(events)
		return nil
	})
}

func (h *Hub) reject(s session.Session, gameID, playerID string, err error) {
	h.log.Debug().Err(err).Str("gameId", gameID).Str("session", s.ID()).Str("code", Code(err)).Msg("action rejected")
	h.out.Reject(s, gameID, playerID, Code(err), Reason(err))
}

// seat sends resume information to a newly seated session.
func (h *Hub) seat(s session.Session, g *game.Game, p *game.Player) {
	info := SeatInfo{GameID: g.ID, PlayerID: p.ID, Username: p.Username, IsHost: p.IsHost}
	if h.opts.Tickets != nil {
		tok, exp, err := h.opts.Tickets.Issue(g.ID, p.ID, p.Username)
		if err != nil {
			h.log.Warn().Err(err).Str("gameId", g.ID).Msg("issue ticket")
		} else {
			info.Ticket, info.ExpiresAt = tok, &exp
		}
	}
	h.out.Session(s, info)
}

func (h *Hub) recordResults(g *game.Game) {
	if h.opts.Stats == nil || g.FinishedAt == nil {
		return
	}
	id, at, results := g.ID, *g.FinishedAt, g.Results()
	h.persist.job(func(ctx context.Context) error {
		return h.opts.Stats.RecordResults(ctx, id, at, results)
	})
}

// ------------------------------ queries ------------------------------------

// GameInfo is the public lobby card for a game.
type GameInfo struct {
	ID           string       `json:"id"`
	Phase        game.Phase   `json:"phase"`
	PlayerCount  int          `json:"playerCount"`
	MaxPlayers   int          `json:"maxPlayers"`
	Players      []PlayerInfo `json:"players"`
	CurrentRound int          `json:"currentRound"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
}

type PlayerInfo struct {
	Username    string `json:"username"`
	IsHost      bool   `json:"isHost"`
	IsConnected bool   `json:"isConnected"`
}

// Info describes a game without revealing any cards.
func (h *Hub) Info(ctx context.Context, id string) (GameInfo, error) {
	r, err := h.room(ctx, id)
	if err != nil {
		return GameInfo{}, err
	}
	var info GameInfo
	err = r.do(ctx, func(g *game.Game) error {
		info = GameInfo{
			ID:           g.ID,
			Phase:        g.Phase(),
			PlayerCount:  len(g.Players),
			MaxPlayers:   g.MaxPlayers,
			Players:      make([]PlayerInfo, 0, len(g.Players)),
			CurrentRound: g.CurrentRound,
			CreatedAt:    g.CreatedAt,
			StartedAt:    g.StartedAt,
		}
		for _, p := range g.Players {
			info.Players = append(info.Players, PlayerInfo{Username: p.Username, IsHost: p.IsHost, IsConnected: p.IsConnected})
		}
		return nil
	})
	return info, err
}
