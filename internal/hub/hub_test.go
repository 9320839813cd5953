package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/forsale/apps/go-server/internal/broadcast"
	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/session/sessiontest"
	"github.com/robalobadob/forsale/apps/go-server/internal/store"
	"github.com/robalobadob/forsale/apps/go-server/internal/ticket"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type failingStore struct{ store.Store }

func (failingStore) Save(context.Context, *game.Game) error { return errors.New("disk on fire") }

type resultsSpy struct {
	mu      sync.Mutex
	games   []string
	results [][]game.Result
}

func (s *resultsSpy) RecordResults(_ context.Context, id string, _ time.Time, r []game.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = append(s.games, id)
	s.results = append(s.results, r)
	return nil
}

func newHub(t *testing.T, mutate ...func(*Options)) (*Hub, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	opts := Options{Store: store.NewMemoryStore(), Now: clock.Now}
	for _, m := range mutate {
		m(&opts)
	}
	h := New(opts)
	t.Cleanup(h.Close)
	return h, clock
}

// lobby creates a game hosted by the first name and seats the rest.
func lobby(t *testing.T, h *Hub, names ...string) (string, map[string]*sessiontest.Recorder) {
	t.Helper()
	ctx := context.Background()
	seats := map[string]*sessiontest.Recorder{}
	host := sessiontest.New()
	id, err := h.Create(ctx, host, names[0], len(names), false)
	require.NoError(t, err)
	seats[names[0]] = host
	for _, n := range names[1:] {
		s := sessiontest.New()
		require.NoError(t, h.Join(ctx, s, JoinRequest{GameID: id, Username: n}))
		seats[n] = s
	}
	return id, seats
}

func snapshot(t *testing.T, h *Hub, id string) *game.Game {
	t.Helper()
	g, err := h.Snapshot(context.Background(), id)
	require.NoError(t, err)
	return g
}

func lastError(t *testing.T, s *sessiontest.Recorder) game.Event {
	t.Helper()
	var e game.Event
	require.True(t, s.Last(broadcast.TypeEvent, &e))
	require.Equal(t, game.EventError, e.Type)
	return e
}

func TestCreateJoinStart(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")

	host := seats["alice"]
	assert.Equal(t, []string{broadcast.TypeState, broadcast.TypeSession, broadcast.TypeState, broadcast.TypeEvent}, host.Types())
	var info SeatInfo
	require.True(t, seats["bob"].Last(broadcast.TypeSession, &info))
	assert.Equal(t, id, info.GameID)
	assert.Equal(t, "bob", info.Username)
	assert.False(t, info.IsHost)

	err := h.Start(ctx, seats["bob"], id)
	assert.ErrorIs(t, err, game.ErrHostOnly)
	assert.Equal(t, "HOST_ONLY", lastError(t, seats["bob"]).Data.Code)

	host.Reset()
	require.NoError(t, h.Start(ctx, host, id))
	assert.Equal(t, game.PhaseBuying, snapshot(t, h, id).Phase())
	assert.Equal(t, []string{broadcast.TypeState, broadcast.TypeEvent}, host.Types())
}

func TestCreate_AutoStart(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, err := h.Create(ctx, sessiontest.New(), "alice", 2, true)
	require.NoError(t, err)
	require.NoError(t, h.Join(ctx, sessiontest.New(), JoinRequest{GameID: id, Username: "bob"}))
	assert.Equal(t, game.PhaseBuying, snapshot(t, h, id).Phase())
}

func TestJoin_Rejections(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")

	s := sessiontest.New()
	err := h.Join(ctx, s, JoinRequest{GameID: "ZZZZZZ", Username: "carol"})
	assert.ErrorIs(t, err, ErrGameNotFound)
	assert.Equal(t, "GAME_NOT_FOUND", lastError(t, s).Data.Code)

	err = h.Join(ctx, s, JoinRequest{GameID: id, Username: "carol"})
	assert.ErrorIs(t, err, game.ErrGameFull)

	require.NoError(t, h.Start(ctx, seats["alice"], id))
	err = h.Join(ctx, s, JoinRequest{GameID: id, Username: "dave"})
	assert.ErrorIs(t, err, game.ErrUsernameConflict)
	assert.Equal(t, "USERNAME_CONFLICT", lastError(t, s).Data.Code)

	err = h.Join(ctx, seats["alice"], JoinRequest{GameID: id, Username: "bob"})
	assert.ErrorIs(t, err, ErrAlreadySeated)
}

func TestRejectedActionReachesOnlyActor(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob", "carol")
	require.NoError(t, h.Start(ctx, seats["alice"], id))

	g := snapshot(t, h, id)
	current := g.Player(g.Bidding().CurrentPlayerID).Username
	var waiting string
	for _, p := range g.Players {
		if p.Username != current {
			waiting = p.Username
			break
		}
	}
	for _, s := range seats {
		s.Reset()
	}

	err := h.Bid(ctx, seats[waiting], id, 1000)
	assert.ErrorIs(t, err, game.ErrNotYourTurn)
	assert.Equal(t, []string{broadcast.TypeEvent}, seats[waiting].Types())
	for name, s := range seats {
		if name != waiting {
			assert.Empty(t, s.Frames(), name)
		}
	}
	after := snapshot(t, h, id)
	assert.Equal(t, g.Bidding(), after.Bidding())
	assert.True(t, g.LastActivity.Equal(after.LastActivity))

	err = h.Bid(ctx, seats[current], id, 999999)
	assert.ErrorIs(t, err, game.ErrBidRejected)
	assert.Equal(t, "INSUFFICIENT_FUNDS", lastError(t, seats[current]).Data.Code)
}

func TestReconnect_MidTurnResumes(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob", "carol")
	require.NoError(t, h.Start(ctx, seats["alice"], id))

	before := snapshot(t, h, id)
	current := before.Player(before.Bidding().CurrentPlayerID)

	h.Disconnect(ctx, seats[current.Username])
	mid := snapshot(t, h, id)
	assert.False(t, mid.Player(current.ID).IsConnected)
	assert.Equal(t, current.ID, mid.Bidding().CurrentPlayerID, "turn is kept while away")

	fresh := sessiontest.New()
	require.NoError(t, h.Join(ctx, fresh, JoinRequest{GameID: id, Username: current.Username}))

	after := snapshot(t, h, id)
	p := after.Player(current.ID)
	assert.True(t, p.IsConnected)
	assert.Equal(t, current.Money, p.Money)
	assert.Equal(t, current.PropertyCards, p.PropertyCards)
	assert.Equal(t, current.MoneyCards, p.MoneyCards)
	assert.Equal(t, fresh.ID(), h.Registry().Bound(id, current.ID).ID())

	require.NoError(t, h.Bid(ctx, fresh, id, 1000))
	assert.Equal(t, 1000, snapshot(t, h, id).Bidding().CurrentBid)
}

func TestReconnect_LastJoinWins(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")
	old := seats["bob"]

	replacement := sessiontest.New()
	require.NoError(t, h.Join(ctx, replacement, JoinRequest{GameID: " " + id + " ", Username: "bob"}))

	var notice broadcast.ErrorPayload
	require.True(t, old.Last(broadcast.TypeSuperseded, &notice))
	assert.Equal(t, "REPLACED", notice.Code)
	assert.True(t, old.Closed())

	var e game.Event
	require.True(t, replacement.Last(broadcast.TypeEvent, &e))
	assert.Equal(t, game.EventPlayerReconnected, e.Type, "the reconnecting session sees no error")

	g := snapshot(t, h, id)
	bob := g.PlayerByUsername("bob")
	assert.Equal(t, replacement.ID(), h.Registry().Bound(id, bob.ID).ID())
	assert.Len(t, g.Players, 2)

	// A late close of the displaced connection must not unseat the new one.
	h.Disconnect(ctx, old)
	assert.True(t, snapshot(t, h, id).PlayerByUsername("bob").IsConnected)
}

func TestLeave(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")

	require.NoError(t, h.Leave(ctx, seats["bob"], id))
	g := snapshot(t, h, id)
	assert.Len(t, g.Players, 2, "seat is kept for a later reconnect")
	assert.False(t, g.PlayerByUsername("bob").IsConnected)

	err := h.Leave(ctx, seats["bob"], id)
	assert.ErrorIs(t, err, ErrNotSeated)
}

func TestSpectator(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")
	require.NoError(t, h.Start(ctx, seats["alice"], id))

	watcher := sessiontest.New()
	require.NoError(t, h.Join(ctx, watcher, JoinRequest{GameID: id, Username: "eve", Spectator: true}))
	var view broadcast.SpectatorView
	require.True(t, watcher.Last(broadcast.TypeSpectator, &view))
	assert.Equal(t, game.PhaseBuying, view.Phase)
	assert.Len(t, snapshot(t, h, id).Players, 2, "spectators take no seat")

	err := h.Pass(ctx, watcher, id)
	assert.ErrorIs(t, err, ErrNotSeated)

	g := snapshot(t, h, id)
	cur := g.Player(g.Bidding().CurrentPlayerID).Username
	watcher.Reset()
	require.NoError(t, h.Bid(ctx, seats[cur], id, 500))
	assert.Equal(t, []string{broadcast.TypeSpectator, broadcast.TypeEvent}, watcher.Types())

	require.NoError(t, h.Leave(ctx, watcher, id))
	assert.Empty(t, h.Registry().Spectators(id))
}

func TestPersistFailureDoesNotBlockPlay(t *testing.T) {
	h, _ := newHub(t, func(o *Options) { o.Store = failingStore{store.NewMemoryStore()} })
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")

	require.NoError(t, h.Start(ctx, seats["alice"], id))
	h.Flush()
	assert.Equal(t, game.PhaseBuying, snapshot(t, h, id).Phase())
}

func TestWriteBehindAndReload(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	h1 := New(Options{Store: st})
	id, seats := lobby(t, h1, "alice", "bob")
	require.NoError(t, h1.Start(ctx, seats["alice"], id))
	h1.Close()

	saved, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, game.PhaseBuying, saved.Phase())

	h2, _ := newHub(t, func(o *Options) { o.Store = st })
	info, err := h2.Info(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, info.PlayerCount)
	for _, p := range info.Players {
		assert.False(t, p.IsConnected, "nobody is connected after a reload")
	}

	s := sessiontest.New()
	require.NoError(t, h2.Join(ctx, s, JoinRequest{GameID: id, Username: "alice"}))
	assert.True(t, snapshot(t, h2, id).PlayerByUsername("alice").IsConnected)
	assert.Equal(t, 1, h2.LiveGames())
}

func TestConcurrentLoadsShareOneActor(t *testing.T) {
	st := store.NewMemoryStore()
	g, err := game.New("alice", 4, false)
	require.NoError(t, err)
	require.NoError(t, st.Save(context.Background(), g))

	h, _ := newHub(t, func(o *Options) { o.Store = st })
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Info(context.Background(), g.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.LiveGames())
}

func TestConcurrentActionsKeepInvariants(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "a", "b", "c", "d")
	require.NoError(t, h.Start(ctx, seats["a"], id))

	var wg sync.WaitGroup
	for _, s := range seats {
		wg.Add(1)
		go func(s *sessiontest.Recorder) {
			defer wg.Done()
			for i := 1; i <= 30; i++ {
				_ = h.Bid(ctx, s, id, i*100)
				_ = h.Pass(ctx, s, id)
			}
		}(s)
	}
	wg.Wait()

	g := snapshot(t, h, id)
	assert.NoError(t, g.Validate())
}

func TestFullGameRecordsResults(t *testing.T) {
	spy := &resultsSpy{}
	h, _ := newHub(t, func(o *Options) { o.Stats = spy })
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")
	require.NoError(t, h.Start(ctx, seats["alice"], id))

	for steps := 0; ; steps++ {
		require.Less(t, steps, 500)
		g := snapshot(t, h, id)
		if g.Phase() == game.PhaseFinished {
			break
		}
		switch g.Phase() {
		case game.PhaseBuying:
			cur := g.Player(g.Bidding().CurrentPlayerID)
			require.NoError(t, h.Pass(ctx, seats[cur.Username], id))
		case game.PhaseSelling:
			for _, p := range g.Players {
				if len(p.PropertyCards) > 0 {
					require.NoError(t, h.SelectCard(ctx, seats[p.Username], id, p.PropertyCards[0].ID))
				}
			}
		}
	}

	var final game.Event
	require.True(t, seats["bob"].Last(broadcast.TypeEvent, &final))
	assert.Equal(t, game.EventGameFinished, final.Type)

	h.Flush()
	spy.mu.Lock()
	defer spy.mu.Unlock()
	require.Equal(t, []string{id}, spy.games)
	assert.Len(t, spy.results[0], 2)
}

func TestTicketRejoin(t *testing.T) {
	iss := ticket.NewIssuer("test-secret", time.Hour)
	h, _ := newHub(t, func(o *Options) { o.Tickets = iss })
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")

	var info SeatInfo
	require.True(t, seats["bob"].Last(broadcast.TypeSession, &info))
	require.NotEmpty(t, info.Ticket)

	s := sessiontest.New()
	require.NoError(t, h.Join(ctx, s, JoinRequest{Ticket: info.Ticket}))
	assert.Equal(t, s.ID(), h.Registry().Bound(id, info.PlayerID).ID())

	bad := sessiontest.New()
	err := h.Join(ctx, bad, JoinRequest{Ticket: "garbage"})
	assert.ErrorIs(t, err, ticket.ErrInvalid)
	assert.Equal(t, "INVALID_TICKET", lastError(t, bad).Data.Code)
}

func TestReap(t *testing.T) {
	h, clock := newHub(t)
	ctx := context.Background()
	idle, idleSeats := lobby(t, h, "alice")
	playing, seats := lobby(t, h, "bob", "carol")
	require.NoError(t, h.Start(ctx, seats["bob"], playing))

	clock.Advance(23 * time.Hour)
	ids, err := h.Reap(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	clock.Advance(2 * time.Hour)
	ids, err = h.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{idle}, ids)
	var closed broadcast.ErrorPayload
	require.True(t, idleSeats["alice"].Last(broadcast.TypeError, &closed), "players of a reaped game are told")
	assert.Equal(t, "GAME_CLOSED", closed.Code)
	assert.Equal(t, idle, closed.GameID)
	assert.Empty(t, h.Registry().Bindings(idleSeats["alice"].ID()))

	_, err = h.Snapshot(ctx, idle)
	assert.ErrorIs(t, err, ErrGameNotFound, "reaped games are gone from memory and storage")
	assert.Equal(t, game.PhaseBuying, snapshot(t, h, playing).Phase(), "games in progress are never reaped")
}

func TestActorPanicIsIsolated(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	a, _ := lobby(t, h, "alice")
	b, _ := lobby(t, h, "bob")

	r, err := h.room(ctx, a)
	require.NoError(t, err)
	err = r.do(ctx, func(g *game.Game) error {
		g.Players[0].Money = 123
		panic("boom")
	})
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, 0, snapshot(t, h, a).Players[0].Money, "rolled back to the last commit")

	s := sessiontest.New()
	require.NoError(t, h.Join(ctx, s, JoinRequest{GameID: a, Username: "carol"}))
	require.NoError(t, h.Join(ctx, sessiontest.New(), JoinRequest{GameID: b, Username: "dave"}))
}

func TestActorPanicRestoresBindings(t *testing.T) {
	h, _ := newHub(t)
	ctx := context.Background()
	id, seats := lobby(t, h, "alice", "bob")
	host := snapshot(t, h, id).HostID

	r, err := h.room(ctx, id)
	require.NoError(t, err)
	intruder, watcher := sessiontest.New(), sessiontest.New()
	err = r.do(ctx, func(g *game.Game) error {
		h.reg.Bind(g.ID, host, intruder)
		h.reg.Watch(g.ID, watcher)
		panic("boom")
	})
	require.ErrorIs(t, err, ErrInternal)

	assert.Same(t, seats["alice"], h.Registry().Bound(id, host))
	assert.Empty(t, h.Registry().Bindings(intruder.ID()))
	assert.Empty(t, h.Registry().Spectators(id))

	// The restored seat still acts.
	require.NoError(t, h.Start(ctx, seats["alice"], id))
	assert.Equal(t, game.PhaseBuying, snapshot(t, h, id).Phase())
}

func TestCreate_CancelledLeavesNoGame(t *testing.T) {
	h, _ := newHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := sessiontest.New()
	id, err := h.Create(ctx, s, "alice", 4, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, id)
	assert.Zero(t, h.LiveGames())
	assert.Empty(t, h.Registry().Bindings(s.ID()))

	gid := lastError(t, s).GameID
	require.NotEmpty(t, gid)
	h.Flush()
	_, err = h.opts.Store.Load(context.Background(), gid)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.Snapshot(context.Background(), gid)
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "GAME_NOT_FOUND", Code(ErrGameNotFound))
	assert.Equal(t, "BID_TOO_LOW", Code(game.ErrBidTooLow))
	assert.Equal(t, "INTERNAL", Code(errors.New("sql: connection refused")))
	assert.Equal(t, "internal error", Reason(errors.New("sql: connection refused")))
}
