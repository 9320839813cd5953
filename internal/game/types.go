// apps/go-server/internal/game/types.go
//
// Core type definitions for the For Sale game engine.
// Defines:
//   - PropertyCard / MoneyCard: the two card families.
//   - Player: a seated participant and everything they hold.
//   - Stage: the phase-specific sub-state (Lobby | Buying | Selling | Finished).
//   - Game: the aggregate mutated by the engine.

package game

import (
	"math/rand/v2"
	"time"
)

// PropertyCard is auctioned during the buying phase. Value 1..30, id == value.
type PropertyCard struct {
	ID    int `json:"id"`
	Value int `json:"value"`
}

// MoneyCard is a cash voucher awarded during the selling phase.
type MoneyCard struct {
	ID    int `json:"id"`
	Value int `json:"value"`
}

// Player is owned by exactly one Game.
type Player struct {
	ID            string         `json:"id"`
	Username      string         `json:"username"`
	Money         int            `json:"money"`
	PropertyCards []PropertyCard `json:"propertyCards"`
	MoneyCards    []MoneyCard    `json:"moneyCards"`
	IsConnected   bool           `json:"isConnected"`
	IsHost        bool           `json:"isHost"`
	LastActivity  time.Time      `json:"lastActivity"`
}

// Phase names the lifecycle stage of a game.
type Phase string

const (
	PhaseLobby    Phase = "LOBBY"
	PhaseBuying   Phase = "BUYING"
	PhaseSelling  Phase = "SELLING"
	PhaseFinished Phase = "FINISHED"
)

// BiddingState is the auction bookkeeping of the buying phase.
type BiddingState struct {
	CurrentPlayerID string   `json:"currentPlayerId"`
	CurrentBid      int      `json:"currentBid"`
	BiddingOrder    []string `json:"biddingOrder"`
	PassedPlayers   []string `json:"passedPlayers"`
	HighestBidder   string   `json:"highestBidder,omitempty"`
}

// SellingState is the simultaneous-reveal bookkeeping of the selling phase.
// SelectionOrder records first submission per player and drives tie-breaks.
type SellingState struct {
	Round            int                     `json:"round"`
	SelectedCards    map[string]PropertyCard `json:"selectedCards"`
	SelectionOrder   []string                `json:"selectionOrder"`
	AllCardsSelected bool                    `json:"allCardsSelected"`
}

// Result is one line of the final ranking.
type Result struct {
	PlayerID       string `json:"playerId"`
	Username       string `json:"username"`
	FinalScore     int    `json:"finalScore"`
	Rank           int    `json:"rank"`
	Money          int    `json:"money"`
	PropertyValues []int  `json:"propertyValues"`
	MoneyValues    []int  `json:"moneyValues"`
}

// Stage is the phase-keyed sub-state of a Game. Exactly one variant is
// held at a time, so a selling state can never coexist with an auction.
// Only the pointer types *Lobby, *Buying, *Selling and *Finished implement it.
type Stage interface {
	Phase() Phase
	clone() Stage
}

// Lobby is the pre-game stage.
type Lobby struct{}

// Buying holds the running auction.
type Buying struct{ Bidding BiddingState }

// Selling holds the running selling round.
type Selling struct{ Selling SellingState }

// Finished is terminal and carries the final ranking.
type Finished struct{ Results []Result }

func (*Lobby) Phase() Phase    { return PhaseLobby }
func (*Buying) Phase() Phase   { return PhaseBuying }
func (*Selling) Phase() Phase  { return PhaseSelling }
func (*Finished) Phase() Phase { return PhaseFinished }

func (*Lobby) clone() Stage { return &Lobby{} }

func (b *Buying) clone() Stage {
	bs := b.Bidding
	bs.BiddingOrder = append([]string(nil), bs.BiddingOrder...)
	bs.PassedPlayers = append([]string{}, bs.PassedPlayers...)
	return &Buying{Bidding: bs}
}

func (s *Selling) clone() Stage {
	ss := s.Selling
	ss.SelectedCards = make(map[string]PropertyCard, len(s.Selling.SelectedCards))
	for k, v := range s.Selling.SelectedCards {
		ss.SelectedCards[k] = v
	}
	ss.SelectionOrder = append([]string{}, ss.SelectionOrder...)
	return &Selling{Selling: ss}
}

func (f *Finished) clone() Stage {
	out := make([]Result, len(f.Results))
	for i, r := range f.Results {
		r.PropertyValues = append([]int{}, r.PropertyValues...)
		r.MoneyValues = append([]int{}, r.MoneyValues...)
		out[i] = r
	}
	return &Finished{Results: out}
}

// Game is the aggregate for one table. It is not safe for concurrent use;
// the hub serializes every mutation through the game's owning goroutine.
type Game struct {
	ID         string
	Players    []*Player // insertion order
	HostID     string
	MaxPlayers int
	AutoStart  bool

	PropertyDeck        []PropertyCard
	MoneyDeck           []MoneyCard
	ActivePropertyCards []PropertyCard
	ActiveMoneyCards    []MoneyCard

	CurrentRound int
	Stage        Stage

	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	LastActivity time.Time

	rng *rand.Rand
	now func() time.Time
}
