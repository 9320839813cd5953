// apps/go-server/internal/broadcast/dispatcher.go
//
// Audience-aware fan-out of committed game transitions.
// Responsibilities:
//   - Encode the canonical snapshot once per transition and deliver it to
//     every seated session; deliver the spectator projection to observers.
//   - Route events: private card awards go only to their owner, rejections
//     only to the acting session, everything else to the whole table.
//   - Deliver the snapshot before the events of the same transition.
//
// Notes:
//   - Publish must be called from the game's actor, so the snapshot it
//     encodes is the committed state. Payloads are encoded up front; writers
//     never touch the live game.

package broadcast

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/forsale/apps/go-server/internal/game"
	"github.com/robalobadob/forsale/apps/go-server/internal/session"
)

// Outbound envelope types.
const (
	TypeState      = "game-state-updated"
	TypeSpectator  = "spectator-update"
	TypeEvent      = "game-event"
	TypeSession    = "session"
	TypeSuperseded = "superseded"
	TypeError      = "error"
)

// Dispatcher delivers views and events to the sessions in a Registry.
type Dispatcher struct {
	reg *session.Registry
	log zerolog.Logger
	now func() time.Time
}

// New returns a Dispatcher over reg.
func New(reg *session.Registry) *Dispatcher {
	return &Dispatcher{
		reg: reg,
		log: log.With().Str("component", "broadcast").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Publish fans out the committed state of g followed by events, in order.
// A session that loses any frame of the batch gets nothing more from it, so
// no event ever reaches a session ahead of the snapshot it describes.
func (d *Dispatcher) Publish(g *game.Game, events []game.Event) {
	players := d.reg.Players(g.ID)
	spectators := d.reg.Spectators(g.ID)
	lost := make(map[string]bool)
	deliver := func(s session.Session, env session.Envelope) {
		if lost[s.ID()] {
			return
		}
		if !d.send(s, env) {
			lost[s.ID()] = true
		}
	}

	if len(players) > 0 {
		env, ok := d.encode(TypeState, g)
		for _, s := range players {
			if !ok {
				lost[s.ID()] = true
				continue
			}
			deliver(s, env)
		}
	}
	if len(spectators) > 0 {
		env, ok := d.encode(TypeSpectator, NewSpectatorView(g))
		for _, s := range spectators {
			if !ok {
				lost[s.ID()] = true
				continue
			}
			deliver(s, env)
		}
	}

	for _, e := range events {
		if private(e.Type) {
			if s, ok := players[e.PlayerID]; ok {
				if env, ok := d.encode(TypeEvent, e); ok {
					deliver(s, env)
				}
			}
			continue
		}
		if env, ok := d.encode(TypeEvent, e); ok {
			for _, s := range players {
				deliver(s, env)
			}
		}
		if len(spectators) == 0 {
			continue
		}
		if pe, ok := spectatorEvent(e); ok {
			if env, ok := d.encode(TypeEvent, pe); ok {
				for _, s := range spectators {
					deliver(s, env)
				}
			}
		}
	}
}

// State sends the full snapshot of g to one session.
func (d *Dispatcher) State(s session.Session, g *game.Game) {
	if env, ok := d.encode(TypeState, g); ok {
		d.send(s, env)
	}
}

// Spectate sends the spectator projection of g to one session.
func (d *Dispatcher) Spectate(s session.Session, g *game.Game) {
	if env, ok := d.encode(TypeSpectator, NewSpectatorView(g)); ok {
		d.send(s, env)
	}
}

// Reject tells the acting session why its action failed. gameID may be empty
// when the action never reached a game.
func (d *Dispatcher) Reject(s session.Session, gameID, playerID, code, reason string) {
	e := game.NewEvent(gameID, game.EventError, playerID, game.EventData{Code: code, Reason: reason}, d.now())
	d.sendEvent(s, e)
}

// Fail reports a frame that could not be decoded at all.
func (d *Dispatcher) Fail(s session.Session, code, message string) {
	if env, ok := d.encode(TypeError, ErrorPayload{Code: code, Message: message}); ok {
		d.send(s, env)
	}
}

// Supersede notifies a displaced session that another connection took over
// its seat.
func (d *Dispatcher) Supersede(s session.Session, gameID string) {
	if env, ok := d.encode(TypeSuperseded, ErrorPayload{Code: "REPLACED", Message: "connected from another session", GameID: gameID}); ok {
		d.send(s, env)
	}
}

// Closed tells a session that gameID no longer exists on the server.
func (d *Dispatcher) Closed(s session.Session, gameID string) {
	if env, ok := d.encode(TypeError, ErrorPayload{Code: "GAME_CLOSED", Message: "game closed", GameID: gameID}); ok {
		d.send(s, env)
	}
}

// Session hands a seated session its resume information.
func (d *Dispatcher) Session(s session.Session, info any) {
	if env, ok := d.encode(TypeSession, info); ok {
		d.send(s, env)
	}
}

// ErrorPayload is the body of error and superseded frames.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	GameID  string `json:"gameId,omitempty"`
}

func (d *Dispatcher) sendEvent(s session.Session, e game.Event) {
	if env, ok := d.encode(TypeEvent, e); ok {
		d.send(s, env)
	}
}

func (d *Dispatcher) encode(typ string, v any) (session.Envelope, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		d.log.Error().Err(err).Str("type", typ).Msg("encode payload")
		return session.Envelope{}, false
	}
	return session.Envelope{Type: typ, Payload: b}, true
}

func (d *Dispatcher) send(s session.Session, env session.Envelope) bool {
	if !s.Send(env) {
		d.log.Debug().Str("session", s.ID()).Str("type", env.Type).Msg("frame dropped")
		return false
	}
	return true
}

// private events concern a single player's hand.
func private(t game.EventType) bool {
	return t == game.EventPropertyWon || t == game.EventMoneyReceived
}
