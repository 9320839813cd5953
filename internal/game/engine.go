// apps/go-server/internal/game/engine.go
//
// Core game engine for a single For Sale table.
// Responsibilities:
//   - Create games with shuffled property and money decks.
//   - Seat players in the lobby and track (re)connection.
//   - Run the ascending auction (bid / pass / finalize) of the buying phase.
//   - Run the simultaneous-reveal selling rounds and their resolution.
//   - Rank the final standings.
//
// Notes:
//   - Every action validates completely before it mutates anything; a
//     rejected action returns a *RuleError and leaves the game unchanged.
//   - A transition returns the ordered events that describe it. Resolution
//     steps (auction finalize, selling resolution, game end) happen inside the
//     same call, so state and events are produced together.
package game

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultMaxPlayers = 6
	MinPlayers        = 2
	MaxPlayersCap     = 10

	maxUsernameLen = 20
	gameIDLen      = 6
	gameIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	smallTableMoney = 16000 // up to 4 players
	largeTableMoney = 14000
)

// Option customises a Game at construction (or after loading).
type Option func(*Game)

// WithRand fixes the random source used for shuffles and bidding order.
func WithRand(r *rand.Rand) Option { return func(g *Game) { g.rng = r } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(g *Game) { g.now = now } }

// New constructs a lobby hosted by hostName. maxPlayers is clamped to
// [MinPlayers, MaxPlayersCap]; zero means DefaultMaxPlayers.
func New(hostName string, maxPlayers int, autoStart bool, opts ...Option) (*Game, error) {
	name, err := NormalizeUsername(hostName)
	if err != nil {
		return nil, err
	}
	if maxPlayers == 0 {
		maxPlayers = DefaultMaxPlayers
	}
	g := &Game{
		ID:                  NewID(),
		MaxPlayers:          min(max(maxPlayers, MinPlayers), MaxPlayersCap),
		AutoStart:           autoStart,
		ActivePropertyCards: []PropertyCard{},
		ActiveMoneyCards:    []MoneyCard{},
		Stage:               &Lobby{},
	}
	g.Configure(opts...)

	g.PropertyDeck = PropertyCards()
	shuffle(g.random(), g.PropertyDeck)
	g.MoneyDeck = MoneyCards()
	shuffle(g.random(), g.MoneyDeck)

	host := g.newPlayer(name, true)
	g.Players = []*Player{host}
	g.HostID = host.ID
	g.CreatedAt = host.LastActivity
	g.LastActivity = host.LastActivity
	return g, nil
}

// Configure applies options to an existing game, e.g. one loaded from storage.
func (g *Game) Configure(opts ...Option) {
	for _, o := range opts {
		o(g)
	}
}

// ------------------------------ accessors ----------------------------------

// Phase reports the current lifecycle stage.
func (g *Game) Phase() Phase {
	if g.Stage == nil {
		return PhaseLobby
	}
	return g.Stage.Phase()
}

// Bidding returns the live auction state, or nil outside BUYING.
func (g *Game) Bidding() *BiddingState {
	if b, ok := g.Stage.(*Buying); ok {
		return &b.Bidding
	}
	return nil
}

// Selling returns the live selling state, or nil outside SELLING.
func (g *Game) Selling() *SellingState {
	if s, ok := g.Stage.(*Selling); ok {
		return &s.Selling
	}
	return nil
}

// Results returns the final ranking once FINISHED.
func (g *Game) Results() []Result {
	if f, ok := g.Stage.(*Finished); ok {
		return f.Results
	}
	return nil
}

// Player looks a player up by id.
func (g *Game) Player(id string) *Player {
	for _, p := range g.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerByUsername looks a player up by exact (trimmed) username.
func (g *Game) PlayerByUsername(name string) *Player {
	name = strings.TrimSpace(name)
	for _, p := range g.Players {
		if p.Username == name {
			return p
		}
	}
	return nil
}

// ------------------------------ seating ------------------------------------

// AddPlayer seats a new, non-host player. Only allowed in the lobby.
// When the game was created with AutoStart and the table is now full, the
// game starts in the same transition.
func (g *Game) AddPlayer(username string) (*Player, []Event, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return nil, nil, err
	}
	if g.PlayerByUsername(name) != nil || g.Phase() != PhaseLobby {
		return nil, nil, ErrUsernameConflict
	}
	if len(g.Players) >= g.MaxPlayers {
		return nil, nil, ErrGameFull
	}

	p := g.newPlayer(name, false)
	g.Players = append(g.Players, p)
	g.LastActivity = p.LastActivity
	events := []Event{g.event(EventPlayerJoined, p.ID, EventData{Username: p.Username})}

	if g.AutoStart && len(g.Players) == g.MaxPlayers {
		events = append(events, g.start()...)
	}
	return p, events, nil
}

// Reconnect marks an existing identity as connected again. Money, cards and
// turn position are untouched.
func (g *Game) Reconnect(username string) (*Player, []Event, error) {
	p := g.PlayerByUsername(username)
	if p == nil {
		return nil, nil, ErrUnknownPlayer
	}
	p.IsConnected = true
	g.touch(p)
	return p, []Event{g.event(EventPlayerReconnected, p.ID, EventData{Username: p.Username})}, nil
}

// Disconnect marks a player as gone. The seat is kept for a later reconnect.
func (g *Game) Disconnect(playerID, reason string) ([]Event, error) {
	p := g.Player(playerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	p.IsConnected = false
	g.touch(p)
	return []Event{g.event(EventPlayerLeft, p.ID, EventData{Username: p.Username, Reason: reason})}, nil
}

// ------------------------------ buying -------------------------------------

// Start moves LOBBY → BUYING. Only the host may start.
func (g *Game) Start(callerID string) ([]Event, error) {
	if g.Phase() != PhaseLobby {
		return nil, ErrInvalidPhase
	}
	if callerID != g.HostID {
		return nil, ErrHostOnly
	}
	if n := len(g.Players); n < MinPlayers {
		return nil, fmt.Errorf("%w: have %d", ErrNotEnoughPlayers, n)
	} else if n > g.MaxPlayers {
		return nil, ErrGameFull
	}
	return g.start(), nil
}

func (g *Game) start() []Event {
	now := g.clock()
	n := len(g.Players)
	money := StartingMoney(n)

	order := make([]string, n)
	for i, p := range g.Players {
		p.Money = money
		order[i] = p.ID
	}
	shuffle(g.random(), order)

	g.ActivePropertyCards = g.drawProperties(n)
	g.CurrentRound = 1
	g.Stage = &Buying{Bidding: BiddingState{
		CurrentPlayerID: order[0],
		BiddingOrder:    order,
		PassedPlayers:   []string{},
	}}
	g.StartedAt = &now
	g.LastActivity = now
	return []Event{g.event(EventGameStarted, "", EventData{Amount: money, Round: 1, Phase: PhaseBuying})}
}

// StartingMoney is 16000 for up to four players, 14000 otherwise.
func StartingMoney(playerCount int) int {
	if playerCount <= 4 {
		return smallTableMoney
	}
	return largeTableMoney
}

// Bid raises the current bid. The caller must hold the turn, must not have
// passed, must outbid, and must be able to afford the amount.
func (g *Game) Bid(playerID string, amount int) ([]Event, error) {
	b := g.Bidding()
	if b == nil {
		return nil, ErrInvalidPhase
	}
	p := g.Player(playerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	if playerID != b.CurrentPlayerID || contains(b.PassedPlayers, playerID) {
		return nil, ErrNotYourTurn
	}
	if amount <= b.CurrentBid {
		return nil, fmt.Errorf("%w: %d <= %d", ErrBidTooLow, amount, b.CurrentBid)
	}
	if p.Money < amount {
		return nil, fmt.Errorf("%w: %d > %d", ErrInsufficientFunds, amount, p.Money)
	}

	b.CurrentBid = amount
	b.HighestBidder = playerID
	b.CurrentPlayerID = nextActive(b, playerID)
	g.touch(p)
	return []Event{g.event(EventBidPlaced, playerID, EventData{Username: p.Username, Amount: amount})}, nil
}

// Pass drops the caller out of the current auction. The caller takes the
// lowest active card and half the current bid (rounded up) back. When one
// bidder remains the auction is finalized in the same step.
func (g *Game) Pass(playerID string) ([]Event, error) {
	b := g.Bidding()
	if b == nil {
		return nil, ErrInvalidPhase
	}
	p := g.Player(playerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	if playerID != b.CurrentPlayerID || contains(b.PassedPlayers, playerID) {
		return nil, ErrNotYourTurn
	}

	refund := (b.CurrentBid + 1) / 2
	p.Money += refund
	b.PassedPlayers = append(b.PassedPlayers, playerID)
	events := []Event{g.event(EventPlayerPassed, playerID, EventData{
		Username: p.Username, Amount: b.CurrentBid, Refund: refund,
	})}

	// The highest card is always left for the auction winner; this only
	// matters in a short final round with fewer cards than bidders.
	if len(g.ActivePropertyCards) > 1 {
		card := g.takeProperty(lowestValue(g.ActivePropertyCards))
		p.PropertyCards = append(p.PropertyCards, card)
		events = append(events, g.event(EventPropertyWon, playerID, EventData{PropertyCard: &card, Reason: "passed"}))
	}
	g.touch(p)

	if remaining := activeBidders(b); len(remaining) == 1 {
		return append(events, g.finalizeAuction(remaining[0])...), nil
	}
	b.CurrentPlayerID = nextActive(b, playerID)
	return events, nil
}

// finalizeAuction charges the last bidder, hands over the best card, and
// either deals the next auction round or opens the selling phase.
func (g *Game) finalizeAuction(winnerID string) []Event {
	b := g.Bidding()
	w := g.Player(winnerID)
	price := b.CurrentBid

	var events []Event
	if len(g.ActivePropertyCards) > 0 {
		card := g.takeProperty(highestValue(g.ActivePropertyCards))
		w.Money -= price
		w.PropertyCards = append(w.PropertyCards, card)
		events = append(events, g.event(EventPropertyWon, winnerID, EventData{
			PropertyCard: &card, Amount: price, Reason: "won_auction",
		}))
	}
	events = append(events, g.event(EventRoundCompleted, "", EventData{Round: g.CurrentRound, Phase: PhaseBuying}))

	if len(g.PropertyDeck) == 0 {
		return append(events, g.startSelling()...)
	}

	g.ActivePropertyCards = g.drawProperties(len(g.Players))
	g.CurrentRound++
	b.CurrentBid = 0
	b.PassedPlayers = []string{}
	b.HighestBidder = ""
	b.CurrentPlayerID = b.BiddingOrder[0]
	return events
}

// ------------------------------ selling ------------------------------------

func (g *Game) startSelling() []Event {
	g.ActiveMoneyCards = append(g.ActiveMoneyCards, g.drawMoney(g.sellerCount())...)
	g.CurrentRound = 1
	g.Stage = &Selling{Selling: newSellingState(1)}
	return []Event{g.event(EventPhaseChanged, "", EventData{Phase: PhaseSelling, Round: 1})}
}

func newSellingState(round int) SellingState {
	return SellingState{
		Round:          round,
		SelectedCards:  map[string]PropertyCard{},
		SelectionOrder: []string{},
	}
}

// SelectCard records (or replaces) the caller's secret pick for this selling
// round. Once every player still holding property has picked, the round is
// resolved in the same step.
func (g *Game) SelectCard(playerID string, cardID int) ([]Event, error) {
	s := g.Selling()
	if s == nil {
		return nil, ErrInvalidPhase
	}
	p := g.Player(playerID)
	if p == nil {
		return nil, ErrUnknownPlayer
	}
	i := propertyIndex(p.PropertyCards, cardID)
	if i < 0 {
		return nil, fmt.Errorf("%w: card %d", ErrUnknownCard, cardID)
	}

	if _, ok := s.SelectedCards[playerID]; !ok {
		s.SelectionOrder = append(s.SelectionOrder, playerID)
	}
	s.SelectedCards[playerID] = p.PropertyCards[i]
	g.touch(p)

	for _, q := range g.Players {
		if _, picked := s.SelectedCards[q.ID]; len(q.PropertyCards) > 0 && !picked {
			return nil, nil
		}
	}
	s.AllCardsSelected = true
	return g.resolveSelling(), nil
}

// resolveSelling pairs picks with money cards by rank: highest property gets
// the highest money card. Equal property values keep submission order.
func (g *Game) resolveSelling() []Event {
	s := g.Selling()
	round := s.Round

	ranked := append([]string(nil), s.SelectionOrder...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.SelectedCards[ranked[i]].Value > s.SelectedCards[ranked[j]].Value
	})
	money := append([]MoneyCard(nil), g.ActiveMoneyCards...)
	sort.SliceStable(money, func(i, j int) bool { return money[i].Value > money[j].Value })

	var events []Event
	summary := make([]Sale, 0, len(ranked))
	for i, pid := range ranked {
		p := g.Player(pid)
		card := s.SelectedCards[pid]
		p.PropertyCards = removeProperty(p.PropertyCards, card.ID)
		sale := Sale{PlayerID: pid, PlayerName: p.Username, PropertyCard: card}
		if i < len(money) {
			mc := money[i]
			p.MoneyCards = append(p.MoneyCards, mc)
			sale.MoneyCard = &mc
			sale.MoneyReceived = mc.Value
			events = append(events, g.event(EventMoneyReceived, pid, EventData{
				MoneyCard: &mc, PropertyCard: &card, Round: round,
			}))
		}
		summary = append(summary, sale)
	}
	g.ActiveMoneyCards = money[min(len(ranked), len(money)):]
	events = append(events, g.event(EventSellingSummary, "", EventData{Summary: summary, Round: round}))

	sellers := g.sellerCount()
	if sellers == 0 {
		return append(events, g.finish()...)
	}
	if need := sellers - len(g.ActiveMoneyCards); need > 0 {
		g.ActiveMoneyCards = append(g.ActiveMoneyCards, g.drawMoney(need)...)
	}
	g.CurrentRound++
	g.Stage = &Selling{Selling: newSellingState(round + 1)}
	return events
}

// ------------------------------ scoring ------------------------------------

func (g *Game) finish() []Event {
	now := g.clock()
	results := g.Standings()
	g.Stage = &Finished{Results: results}
	g.FinishedAt = &now
	g.LastActivity = now
	return []Event{g.event(EventGameFinished, "", EventData{Results: results, Phase: PhaseFinished})}
}

// FinalScore is cash on hand plus the face value of every money card.
func FinalScore(p *Player) int {
	total := p.Money
	for _, c := range p.MoneyCards {
		total += c.Value
	}
	return total
}

// Standings ranks players by final score, descending; ties keep seat order.
func (g *Game) Standings() []Result {
	out := make([]Result, 0, len(g.Players))
	for _, p := range g.Players {
		r := Result{
			PlayerID:       p.ID,
			Username:       p.Username,
			FinalScore:     FinalScore(p),
			Money:          p.Money,
			PropertyValues: make([]int, 0, len(p.PropertyCards)),
			MoneyValues:    make([]int, 0, len(p.MoneyCards)),
		}
		for _, c := range p.PropertyCards {
			r.PropertyValues = append(r.PropertyValues, c.Value)
		}
		for _, c := range p.MoneyCards {
			r.MoneyValues = append(r.MoneyValues, c.Value)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// ------------------------------ helpers ------------------------------------

func (g *Game) newPlayer(name string, host bool) *Player {
	return &Player{
		ID:            uuid.NewString(),
		Username:      name,
		PropertyCards: []PropertyCard{},
		MoneyCards:    []MoneyCard{},
		IsConnected:   true,
		IsHost:        host,
		LastActivity:  g.clock(),
	}
}

func (g *Game) touch(p *Player) {
	now := g.clock()
	p.LastActivity = now
	g.LastActivity = now
}

func (g *Game) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now().UTC()
}

func (g *Game) random() *rand.Rand {
	if g.rng == nil {
		g.rng = newRand()
	}
	return g.rng
}

func (g *Game) drawProperties(n int) []PropertyCard {
	n = min(n, len(g.PropertyDeck))
	out := append([]PropertyCard{}, g.PropertyDeck[:n]...)
	g.PropertyDeck = g.PropertyDeck[n:]
	return out
}

func (g *Game) drawMoney(n int) []MoneyCard {
	n = min(n, len(g.MoneyDeck))
	out := append([]MoneyCard{}, g.MoneyDeck[:n]...)
	g.MoneyDeck = g.MoneyDeck[n:]
	return out
}

// takeProperty removes the active card at index i and returns it.
func (g *Game) takeProperty(i int) PropertyCard {
	c := g.ActivePropertyCards[i]
	g.ActivePropertyCards = append(g.ActivePropertyCards[:i:i], g.ActivePropertyCards[i+1:]...)
	return c
}

// sellerCount is the number of players still holding property.
func (g *Game) sellerCount() int {
	n := 0
	for _, p := range g.Players {
		if len(p.PropertyCards) > 0 {
			n++
		}
	}
	return n
}

// nextActive walks biddingOrder cyclically from `from` to the next player
// who has not passed.
func nextActive(b *BiddingState, from string) string {
	n := len(b.BiddingOrder)
	start := indexOf(b.BiddingOrder, from)
	for step := 1; step <= n; step++ {
		id := b.BiddingOrder[(start+step)%n]
		if !contains(b.PassedPlayers, id) {
			return id
		}
	}
	return from
}

func activeBidders(b *BiddingState) []string {
	var out []string
	for _, id := range b.BiddingOrder {
		if !contains(b.PassedPlayers, id) {
			out = append(out, id)
		}
	}
	return out
}

func lowestValue(cards []PropertyCard) int {
	best := 0
	for i, c := range cards {
		if c.Value < cards[best].Value {
			best = i
		}
	}
	return best
}

func highestValue(cards []PropertyCard) int {
	best := 0
	for i, c := range cards {
		if c.Value > cards[best].Value {
			best = i
		}
	}
	return best
}

func propertyIndex(cards []PropertyCard, id int) int {
	for i, c := range cards {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func removeProperty(cards []PropertyCard, id int) []PropertyCard {
	out := make([]PropertyCard, 0, len(cards))
	for _, c := range cards {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func contains(s []string, v string) bool { return indexOf(s, v) >= 0 }

// NormalizeUsername trims whitespace and enforces 1 to 20 characters.
func NormalizeUsername(u string) (string, error) {
	u = strings.TrimSpace(u)
	if n := utf8.RuneCountInString(u); n == 0 || n > maxUsernameLen {
		return "", ErrInvalidUsername
	}
	return u, nil
}

// NormalizeID upper-cases a user-typed game code.
func NormalizeID(id string) string { return strings.ToUpper(strings.TrimSpace(id)) }

// NewID returns a short, shareable game code such as "K3Q9ZB".
func NewID() string {
	var b [gameIDLen]byte
	_, _ = crand.Read(b[:])
	for i := range b {
		b[i] = gameIDAlphabet[int(b[i])%len(gameIDAlphabet)]
	}
	return string(b[:])
}
