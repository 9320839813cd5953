// apps/go-server/internal/httpserver/ws.go
//
// Websocket session gateway.
// Responsibilities:
//   - Upgrade /ws requests and run one read pump and one write pump per
//     connection.
//   - Decode {"action","data"} frames and dispatch them to the hub.
//   - Implement session.Session: a bounded, non-blocking outbound queue.
//     Overflowing it closes the session.
//
// Notes:
//   - The send queue is never closed; done signals shutdown, so a broadcast
//     racing a close can never panic.
//   - A panic while handling one frame is recovered and reported to that
//     client only.

package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/robalobadob/forsale/apps/go-server/internal/hub"
	"github.com/robalobadob/forsale/apps/go-server/internal/session"
)

const (
	sendQueueSize  = 64
	maxFrameBytes  = 8 << 10
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	actionDeadline = 10 * time.Second
)

// client is one websocket connection.
type client struct {
	id   string
	conn *websocket.Conn
	send chan session.Envelope
	done chan struct{}
	once sync.Once
	log  zerolog.Logger
}

func (c *client) ID() string { return c.id }

func (c *client) Send(env session.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	case <-c.done:
		return false
	default:
		// A gap in the stream cannot be repaired in place; the client
		// reconnects and is sent a fresh snapshot.
		c.log.Warn().Str("type", env.Type).Msg("send queue full; closing session")
		c.Close()
		return false
	}
}

func (c *client) Close() {
	c.once.Do(func() { close(c.done) })
}

// handleWS upgrades the request and serves the connection until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan session.Envelope, sendQueueSize),
		done: make(chan struct{}),
	}
	c.log = hlog.FromRequest(r).With().Str("session", c.id).Logger()
	c.log.Info().Str("remote", r.RemoteAddr).Msg("session opened")

	go s.writePump(c)
	s.readPump(c)
}

func (s *Server) readPump(c *client) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), actionDeadline)
		s.hub.Disconnect(ctx, c)
		cancel()
		c.Close()
		c.log.Info().Msg("session closed")
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read error")
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		s.handleFrame(c, msg)
	}
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug().Err(err).Msg("write error")
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			// Drain what is already queued (e.g. a superseded notice).
			for {
				select {
				case env := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(env); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

// ------------------------------ frames -------------------------------------

type inbound struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type createData struct {
	Username   string `json:"username"`
	MaxPlayers int    `json:"maxPlayers"`
	AutoStart  bool   `json:"autoStart"`
}

type joinData struct {
	GameID      string `json:"gameId"`
	Username    string `json:"username"`
	IsSpectator bool   `json:"isSpectator"`
	Ticket      string `json:"ticket"`
}

type bidData struct {
	GameID string `json:"gameId"`
	Bid    *int   `json:"bid"`
}

type selectData struct {
	GameID string `json:"gameId"`
	CardID *int   `json:"cardId"`
}

// gameRef accepts either "ABC123" or {"gameId":"ABC123"}.
type gameRef struct{ GameID string }

func (g *gameRef) UnmarshalJSON(b []byte) error {
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		g.GameID = id
		return nil
	}
	var obj struct {
		GameID string `json:"gameId"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	g.GameID = obj.GameID
	return nil
}

func (s *Server) handleFrame(c *client, msg []byte) {
	defer func() {
		if p := recover(); p != nil {
			c.log.Error().Interface("panic", p).Msg("frame handler panicked")
			s.hub.Dispatcher().Fail(c, hub.Code(hub.ErrInternal), hub.ErrInternal.Error())
		}
	}()

	var in inbound
	if err := json.Unmarshal(msg, &in); err != nil || in.Action == "" {
		s.malformed(c, "")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), actionDeadline)
	defer cancel()

	var err error
	switch strings.ToLower(in.Action) {
	case "create-game":
		var d createData
		if decode(in.Data, &d) != nil {
			s.malformed(c, in.Action)
			return
		}
		_, err = s.hub.Create(ctx, c, d.Username, d.MaxPlayers, d.AutoStart)
	case "join-game":
		var d joinData
		if decode(in.Data, &d) != nil || (d.Ticket == "" && d.GameID == "") {
			s.malformed(c, in.Action)
			return
		}
		err = s.hub.Join(ctx, c, hub.JoinRequest{GameID: d.GameID, Username: d.Username, Spectator: d.IsSpectator, Ticket: d.Ticket})
	case "start-game":
		var d gameRef
		if decode(in.Data, &d) != nil {
			s.malformed(c, in.Action)
			return
		}
		err = s.hub.Start(ctx, c, d.GameID)
	case "place-bid":
		var d bidData
		if decode(in.Data, &d) != nil || d.Bid == nil {
			s.malformed(c, in.Action)
			return
		}
		err = s.hub.Bid(ctx, c, d.GameID, *d.Bid)
	case "pass-bid":
		var d gameRef
		if decode(in.Data, &d) != nil {
			s.malformed(c, in.Action)
			return
		}
		err = s.hub.Pass(ctx, c, d.GameID)
	case "select-card":
		var d selectData
		if decode(in.Data, &d) != nil || d.CardID == nil {
			s.malformed(c, in.Action)
			return
		}
		err = s.hub.SelectCard(ctx, c, d.GameID, *d.CardID)
	case "leave-game":
		var d gameRef
		if decode(in.Data, &d) != nil {
			s.malformed(c, in.Action)
			return
		}
		err = s.hub.Leave(ctx, c, d.GameID)
	default:
		s.hub.Dispatcher().Fail(c, "UNKNOWN_ACTION", "unknown action "+in.Action)
		return
	}
	if err != nil {
		c.log.Debug().Err(err).Str("action", in.Action).Msg("action rejected")
	}
}

func (s *Server) malformed(c *client, action string) {
	c.log.Debug().Str("action", action).Msg("malformed frame")
	s.hub.Dispatcher().Fail(c, hub.Code(hub.ErrMalformed), hub.ErrMalformed.Error())
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, v)
}
