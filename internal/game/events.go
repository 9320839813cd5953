package game

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a discrete notification produced by a transition.
type EventType string

const (
	EventPlayerJoined      EventType = "PLAYER_JOINED"
	EventPlayerReconnected EventType = "PLAYER_RECONNECTED"
	EventPlayerLeft        EventType = "PLAYER_LEFT"
	EventGameStarted       EventType = "GAME_STARTED"
	EventPhaseChanged      EventType = "PHASE_CHANGED"
	EventBidPlaced         EventType = "BID_PLACED"
	EventPlayerPassed      EventType = "PLAYER_PASSED"
	EventPropertyWon       EventType = "PROPERTY_WON"
	EventRoundCompleted    EventType = "ROUND_COMPLETED"
	EventMoneyReceived     EventType = "MONEY_RECEIVED"
	EventSellingSummary    EventType = "SELLING_SUMMARY"
	EventGameFinished      EventType = "GAME_FINISHED"
	EventError             EventType = "ERROR"
)

// Sale is one line of a selling-round summary.
type Sale struct {
	PlayerID      string       `json:"playerId"`
	PlayerName    string       `json:"playerName"`
	PropertyCard  PropertyCard `json:"propertyCard"`
	MoneyCard     *MoneyCard   `json:"moneyCard"`
	MoneyReceived int          `json:"moneyReceived"`
}

// EventData is the union of payload fields; unused ones are omitted on the wire.
type EventData struct {
	Username     string        `json:"username,omitempty"`
	Amount       int           `json:"amount,omitempty"`
	Refund       int           `json:"refund,omitempty"`
	PropertyCard *PropertyCard `json:"propertyCard,omitempty"`
	MoneyCard    *MoneyCard    `json:"moneyCard,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Code         string        `json:"code,omitempty"`
	Round        int           `json:"round,omitempty"`
	Phase        Phase         `json:"phase,omitempty"`
	Summary      []Sale        `json:"summary,omitempty"`
	Results      []Result      `json:"results,omitempty"`
}

// Event is a notification describing part of a committed transition.
type Event struct {
	ID        string    `json:"id"`
	GameID    string    `json:"gameId"`
	Type      EventType `json:"type"`
	PlayerID  string    `json:"playerId,omitempty"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps an event for gameID at t.
func NewEvent(gameID string, typ EventType, playerID string, data EventData, t time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		GameID:    gameID,
		Type:      typ,
		PlayerID:  playerID,
		Data:      data,
		Timestamp: t,
	}
}

func (g *Game) event(typ EventType, playerID string, data EventData) Event {
	return NewEvent(g.ID, typ, playerID, data, g.clock())
}
