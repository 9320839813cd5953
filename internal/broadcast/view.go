package broadcast

import "github.com/robalobadob/forsale/apps/go-server/internal/game"

// SpectatorView is the redacted projection sent to observers. Held cards are
// reduced to counts; only cards already face up on the table are shown.
type SpectatorView struct {
	GameID              string              `json:"gameId"`
	Phase               game.Phase          `json:"phase"`
	HostID              string              `json:"hostId"`
	MaxPlayers          int                 `json:"maxPlayers"`
	Players             []SpectatorPlayer   `json:"players"`
	ActivePropertyCards []game.PropertyCard `json:"activePropertyCards"`
	ActiveMoneyCards    []game.MoneyCard    `json:"activeMoneyCards"`
	PropertyDeckCount   int                 `json:"propertyDeckCount"`
	MoneyDeckCount      int                 `json:"moneyDeckCount"`
	CurrentRound        int                 `json:"currentRound"`
	BiddingState        *SpectatorBidding   `json:"biddingState,omitempty"`
	SellingState        *SpectatorSelling   `json:"sellingState,omitempty"`
	Results             []SpectatorResult   `json:"results,omitempty"`
}

type SpectatorPlayer struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Money             int    `json:"money"`
	PropertyCardCount int    `json:"propertyCardCount"`
	MoneyCardCount    int    `json:"moneyCardCount"`
	IsConnected       bool   `json:"isConnected"`
	IsHost            bool   `json:"isHost"`
}

// SpectatorBidding is the public part of the auction.
type SpectatorBidding struct {
	CurrentPlayerID string   `json:"currentPlayerId"`
	CurrentBid      int      `json:"currentBid"`
	PassedPlayers   []string `json:"passedPlayers"`
	HighestBidder   string   `json:"highestBidder,omitempty"`
}

// SpectatorSelling says who has picked, never what.
type SpectatorSelling struct {
	Round             int      `json:"round"`
	SelectedPlayerIDs []string `json:"selectedPlayerIds"`
	AllCardsSelected  bool     `json:"allCardsSelected"`
}

type SpectatorResult struct {
	PlayerID   string `json:"playerId"`
	Username   string `json:"username"`
	FinalScore int    `json:"finalScore"`
	Rank       int    `json:"rank"`
}

// NewSpectatorView projects g for observers.
func NewSpectatorView(g *game.Game) SpectatorView {
	v := SpectatorView{
		GameID:              g.ID,
		Phase:               g.Phase(),
		HostID:              g.HostID,
		MaxPlayers:          g.MaxPlayers,
		Players:             make([]SpectatorPlayer, 0, len(g.Players)),
		ActivePropertyCards: append([]game.PropertyCard{}, g.ActivePropertyCards...),
		ActiveMoneyCards:    append([]game.MoneyCard{}, g.ActiveMoneyCards...),
		PropertyDeckCount:   len(g.PropertyDeck),
		MoneyDeckCount:      len(g.MoneyDeck),
		CurrentRound:        g.CurrentRound,
	}
	for _, p := range g.Players {
		v.Players = append(v.Players, SpectatorPlayer{
			ID:                p.ID,
			Username:          p.Username,
			Money:             p.Money,
			PropertyCardCount: len(p.PropertyCards),
			MoneyCardCount:    len(p.MoneyCards),
			IsConnected:       p.IsConnected,
			IsHost:            p.IsHost,
		})
	}
	if b := g.Bidding(); b != nil {
		v.BiddingState = &SpectatorBidding{
			CurrentPlayerID: b.CurrentPlayerID,
			CurrentBid:      b.CurrentBid,
			PassedPlayers:   append([]string{}, b.PassedPlayers...),
			HighestBidder:   b.HighestBidder,
		}
	}
	if s := g.Selling(); s != nil {
		v.SellingState = &SpectatorSelling{
			Round:             s.Round,
			SelectedPlayerIDs: append([]string{}, s.SelectionOrder...),
			AllCardsSelected:  s.AllCardsSelected,
		}
	}
	for _, r := range g.Results() {
		v.Results = append(v.Results, SpectatorResult{
			PlayerID: r.PlayerID, Username: r.Username, FinalScore: r.FinalScore, Rank: r.Rank,
		})
	}
	return v
}

// spectatorEvent strips held-card detail from an event before it reaches
// observers. ok is false for events observers never see.
func spectatorEvent(e game.Event) (out game.Event, ok bool) {
	switch e.Type {
	case game.EventPropertyWon, game.EventMoneyReceived, game.EventError:
		return e, false
	}
	out = e
	if len(e.Data.Summary) > 0 {
		out.Data.Summary = make([]game.Sale, len(e.Data.Summary))
		for i, s := range e.Data.Summary {
			s.MoneyCard, s.MoneyReceived = nil, 0
			out.Data.Summary[i] = s
		}
	}
	if len(e.Data.Results) > 0 {
		out.Data.Results = make([]game.Result, len(e.Data.Results))
		for i, r := range e.Data.Results {
			r.PropertyValues, r.MoneyValues = nil, nil
			out.Data.Results[i] = r
		}
	}
	return out, true
}
