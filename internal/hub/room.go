// apps/go-server/internal/hub/room.go
//
// Single-owner actor for one game.
// Responsibilities:
//   - Own the live *game.Game; every read or mutation runs on this goroutine.
//   - Commit a transition: check invariants, publish, snapshot for storage.
//   - Contain faults: a panicking command is answered with ErrInternal, the
//     game is rolled back to its last committed snapshot and its session
//     bindings to what they were before the command.

package hub

import (
	"context"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
)

const inboxSize = 64

type command struct {
	fn    func(g *game.Game) error
	reply chan error
}

type room struct {
	id    string
	h     *Hub
	g     *game.Game
	last  *game.Game // last committed snapshot
	inbox chan command
	done  chan struct{} // closed once retired
	log   zerolog.Logger
}

func newRoom(h *Hub, g *game.Game) *room {
	return &room{
		id:    g.ID,
		h:     h,
		g:     g,
		last:  g.Clone(),
		inbox: make(chan command, inboxSize),
		done:  make(chan struct{}),
		log:   h.log.With().Str("gameId", g.ID).Logger(),
	}
}

// run serves commands until the room is retired or the hub stops.
func (r *room) run() {
	defer r.h.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case <-r.h.ctx.Done():
			return
		default:
		}
		select {
		case c := <-r.inbox:
			r.exec(c)
		case <-r.done:
			return
		case <-r.h.ctx.Done():
			return
		}
	}
}

// exec runs one command. A panic restores both the game and its session
// bindings to how they were before the command.
func (r *room) exec(c command) {
	bindings := r.h.reg.Snapshot(r.id)
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Bytes("stack", debug.Stack()).Msg("command panicked; rolling back")
			r.g = r.last.Clone()
			r.g.Configure(r.h.gameOpts()...)
			r.h.reg.Restore(r.id, bindings)
			c.reply <- ErrInternal
		}
	}()
	c.reply <- c.fn(r.g)
}

// do runs fn on the actor and waits for its result.
func (r *room) do(ctx context.Context, fn func(g *game.Game) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case r.inbox <- c:
	case <-r.done:
		return ErrGameNotFound
	case <-r.h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-r.done:
		// The command that retired the room still answered.
		select {
		case err := <-c.reply:
			return err
		default:
			return ErrGameNotFound
		}
	case <-r.h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// commit publishes a transition and queues its snapshot for storage.
// Must run on the actor.
func (r *room) commit(events []game.Event) {
	if err := r.g.Validate(); err != nil {
		r.log.Error().Err(err).Msg("invariant violated after commit")
	}
	r.h.out.Publish(r.g, events)

	snap := r.g.Clone()
	r.last = snap
	r.h.persist.save(snap)

	for _, e := range events {
		if e.Type == game.EventGameFinished {
			r.h.recordResults(snap)
		}
	}
}

// retire detaches the room from the hub and drops its bindings and stored
// snapshot. Must run on the actor.
func (r *room) retire() {
	r.h.mu.Lock()
	if r.h.rooms[r.id] == r {
		delete(r.h.rooms, r.id)
	}
	r.h.mu.Unlock()

	for _, s := range r.h.reg.DropGame(r.id) {
		r.h.out.Closed(s, r.id)
	}
	r.h.persist.delete(r.id)
	close(r.done)
	r.log.Info().Str("phase", string(r.g.Phase())).Time("lastActivity", r.g.LastActivity).Msg("game retired")
}
