package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/store"
)

// each runs fn against every Store implementation.
func each(t *testing.T, fn func(t *testing.T, st store.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, store.NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) {
		db, err := store.Open(filepath.Join(t.TempDir(), "nested", "forsale.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		fn(t, store.NewSQLiteStore(db))
	})
}

func newGame(t *testing.T, at time.Time, players ...string) *game.Game {
	t.Helper()
	g, err := game.New(players[0], 0, false, game.WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	for _, p := range players[1:] {
		_, _, err := g.AddPlayer(p)
		require.NoError(t, err)
	}
	return g
}

func TestStore_SaveLoad(t *testing.T) {
	each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		g := newGame(t, now, "alice", "bob")
		_, err := g.Start(g.HostID)
		require.NoError(t, err)
		_, err = g.Bid(g.Bidding().CurrentPlayerID, 2000)
		require.NoError(t, err)

		require.NoError(t, st.Save(ctx, g))
		got, err := st.Load(ctx, g.ID)
		require.NoError(t, err)

		assert.Equal(t, g.ID, got.ID)
		assert.Equal(t, game.PhaseBuying, got.Phase())
		assert.Equal(t, *g.Bidding(), *got.Bidding())
		assert.Equal(t, g.Players[0].Money, got.Players[0].Money)
		assert.True(t, g.LastActivity.Equal(got.LastActivity))
		assert.NoError(t, got.Validate())

		got.Players[0].Money = 1
		again, err := st.Load(ctx, g.ID)
		require.NoError(t, err)
		assert.NotEqual(t, 1, again.Players[0].Money, "loaded copies are independent")

		// upsert
		_, err = g.Pass(g.Bidding().CurrentPlayerID)
		require.NoError(t, err)
		require.NoError(t, st.Save(ctx, g))
		got, err = st.Load(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.CurrentRound)
	})
}

func TestStore_NotFoundAndDelete(t *testing.T) {
	each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		_, err := st.Load(ctx, "NOPE00")
		assert.ErrorIs(t, err, store.ErrNotFound)

		g := newGame(t, time.Now().UTC(), "alice")
		require.NoError(t, st.Save(ctx, g))
		require.NoError(t, st.Delete(ctx, g.ID))
		_, err = st.Load(ctx, g.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, st.Delete(ctx, g.ID))
	})
}

func TestStore_PurgeStale(t *testing.T) {
	each(t, func(t *testing.T, st store.Store) {
		ctx := context.Background()
		now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
		old := now.Add(-25 * time.Hour)

		staleLobby := newGame(t, old, "a")
		freshLobby := newGame(t, now, "b")
		staleBuying := newGame(t, old, "c", "d")
		_, err := staleBuying.Start(staleBuying.HostID)
		require.NoError(t, err)

		for _, g := range []*game.Game{staleLobby, freshLobby, staleBuying} {
			require.NoError(t, st.Save(ctx, g))
		}

		ids, err := st.PurgeStale(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{staleLobby.ID}, ids)

		_, err = st.Load(ctx, staleLobby.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.Load(ctx, freshLobby.ID)
		assert.NoError(t, err)
		_, err = st.Load(ctx, staleBuying.ID)
		assert.NoError(t, err, "in-progress games are never purged")
	})
}

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forsale.db")
	db, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = store.Open(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM _migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}
