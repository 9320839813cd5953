package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Clone returns a deep copy safe to hand to another goroutine (persistence,
// tests). The clone does not share the random source.
func (g *Game) Clone() *Game {
	c := *g
	c.rng = nil
	c.Players = make([]*Player, len(g.Players))
	for i, p := range g.Players {
		cp := *p
		cp.PropertyCards = append([]PropertyCard{}, p.PropertyCards...)
		cp.MoneyCards = append([]MoneyCard{}, p.MoneyCards...)
		c.Players[i] = &cp
	}
	c.PropertyDeck = append([]PropertyCard{}, g.PropertyDeck...)
	c.MoneyDeck = append([]MoneyCard{}, g.MoneyDeck...)
	c.ActivePropertyCards = append([]PropertyCard{}, g.ActivePropertyCards...)
	c.ActiveMoneyCards = append([]MoneyCard{}, g.ActiveMoneyCards...)
	if g.Stage != nil {
		c.Stage = g.Stage.clone()
	}
	c.StartedAt = copyTime(g.StartedAt)
	c.FinishedAt = copyTime(g.FinishedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// gameJSON is the wire and storage shape. The phase sub-state is flattened
// into optional fields; UnmarshalJSON rebuilds the Stage from Phase and
// refuses combinations the Stage union cannot hold.
type gameJSON struct {
	ID                  string         `json:"id"`
	Phase               Phase          `json:"phase"`
	Players             []*Player      `json:"players"`
	HostID              string         `json:"hostId"`
	MaxPlayers          int            `json:"maxPlayers"`
	AutoStart           bool           `json:"autoStart"`
	PropertyDeck        []PropertyCard `json:"propertyDeck"`
	MoneyDeck           []MoneyCard    `json:"moneyDeck"`
	ActivePropertyCards []PropertyCard `json:"activePropertyCards"`
	ActiveMoneyCards    []MoneyCard    `json:"activeMoneyCards"`
	CurrentRound        int            `json:"currentRound"`
	BiddingState        *BiddingState  `json:"biddingState,omitempty"`
	SellingState        *SellingState  `json:"sellingState,omitempty"`
	Results             []Result       `json:"results,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	FinishedAt          *time.Time     `json:"finishedAt,omitempty"`
	LastActivity        time.Time      `json:"lastActivity"`
}

// MarshalJSON renders the canonical full snapshot.
func (g *Game) MarshalJSON() ([]byte, error) {
	w := gameJSON{
		ID:                  g.ID,
		Phase:               g.Phase(),
		Players:             g.Players,
		HostID:              g.HostID,
		MaxPlayers:          g.MaxPlayers,
		AutoStart:           g.AutoStart,
		PropertyDeck:        nonNil(g.PropertyDeck),
		MoneyDeck:           nonNil(g.MoneyDeck),
		ActivePropertyCards: nonNil(g.ActivePropertyCards),
		ActiveMoneyCards:    nonNil(g.ActiveMoneyCards),
		CurrentRound:        g.CurrentRound,
		BiddingState:        g.Bidding(),
		SellingState:        g.Selling(),
		Results:             g.Results(),
		CreatedAt:           g.CreatedAt,
		StartedAt:           g.StartedAt,
		FinishedAt:          g.FinishedAt,
		LastActivity:        g.LastActivity,
	}
	if w.Players == nil {
		w.Players = []*Player{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores a snapshot produced by MarshalJSON.
func (g *Game) UnmarshalJSON(data []byte) error {
	var w gameJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var stage Stage
	switch w.Phase {
	case PhaseLobby, "":
		if w.BiddingState != nil || w.SellingState != nil {
			return errors.New("lobby snapshot carries phase state")
		}
		stage = &Lobby{}
	case PhaseBuying:
		if w.BiddingState == nil || w.SellingState != nil {
			return errors.New("buying snapshot needs biddingState only")
		}
		bs := *w.BiddingState
		if bs.PassedPlayers == nil {
			bs.PassedPlayers = []string{}
		}
		stage = &Buying{Bidding: bs}
	case PhaseSelling:
		if w.SellingState == nil || w.BiddingState != nil {
			return errors.New("selling snapshot needs sellingState only")
		}
		ss := *w.SellingState
		if ss.SelectedCards == nil {
			ss.SelectedCards = map[string]PropertyCard{}
		}
		if ss.SelectionOrder == nil {
			ss.SelectionOrder = []string{}
		}
		stage = &Selling{Selling: ss}
	case PhaseFinished:
		if w.BiddingState != nil || w.SellingState != nil {
			return errors.New("finished snapshot carries phase state")
		}
		stage = &Finished{Results: w.Results}
	default:
		return fmt.Errorf("unknown phase %q", w.Phase)
	}

	*g = Game{
		ID:                  w.ID,
		Players:             w.Players,
		HostID:              w.HostID,
		MaxPlayers:          w.MaxPlayers,
		AutoStart:           w.AutoStart,
		PropertyDeck:        nonNil(w.PropertyDeck),
		MoneyDeck:           nonNil(w.MoneyDeck),
		ActivePropertyCards: nonNil(w.ActivePropertyCards),
		ActiveMoneyCards:    nonNil(w.ActiveMoneyCards),
		CurrentRound:        w.CurrentRound,
		Stage:               stage,
		CreatedAt:           w.CreatedAt,
		StartedAt:           w.StartedAt,
		FinishedAt:          w.FinishedAt,
		LastActivity:        w.LastActivity,
	}
	for _, p := range g.Players {
		p.PropertyCards = nonNil(p.PropertyCards)
		p.MoneyCards = nonNil(p.MoneyCards)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Validate checks the structural invariants: card conservation for both
// families and the consistency of the phase sub-state.
func (g *Game) Validate() error {
	props := make([]int, 0, DeckSize)
	money := make([]int, 0, DeckSize)
	for _, c := range g.PropertyDeck {
		props = append(props, c.ID)
	}
	for _, c := range g.ActivePropertyCards {
		props = append(props, c.ID)
	}
	for _, c := range g.MoneyDeck {
		money = append(money, c.ID)
	}
	for _, c := range g.ActiveMoneyCards {
		money = append(money, c.ID)
	}
	for _, p := range g.Players {
		for _, c := range p.PropertyCards {
			props = append(props, c.ID)
		}
		for _, c := range p.MoneyCards {
			money = append(money, c.ID)
		}
	}
	if err := checkPartition("property", props); err != nil {
		return err
	}
	if err := checkPartition("money", money); err != nil {
		return err
	}

	switch st := g.Stage.(type) {
	case *Buying:
		b := st.Bidding
		if len(b.BiddingOrder) != len(g.Players) {
			return fmt.Errorf("bidding order has %d ids for %d players", len(b.BiddingOrder), len(g.Players))
		}
		for _, id := range b.BiddingOrder {
			if g.Player(id) == nil {
				return fmt.Errorf("bidding order names unknown player %s", id)
			}
		}
		for _, id := range b.PassedPlayers {
			if !contains(b.BiddingOrder, id) {
				return fmt.Errorf("passed player %s not in bidding order", id)
			}
		}
		if contains(b.PassedPlayers, b.CurrentPlayerID) {
			return fmt.Errorf("current player %s already passed", b.CurrentPlayerID)
		}
	case *Selling:
		for id := range st.Selling.SelectedCards {
			p := g.Player(id)
			if p == nil || len(p.PropertyCards) == 0 {
				return fmt.Errorf("selection by %s who holds no property", id)
			}
		}
	}
	return nil
}

func checkPartition(family string, ids []int) error {
	if len(ids) != DeckSize {
		return fmt.Errorf("%s cards: have %d, want %d", family, len(ids), DeckSize)
	}
	seen := make(map[int]bool, DeckSize)
	for _, id := range ids {
		if id < 1 || id > DeckSize || seen[id] {
			return fmt.Errorf("%s card %d duplicated or out of range", family, id)
		}
		seen[id] = true
	}
	return nil
}
