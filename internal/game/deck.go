package game

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// DeckSize is the number of cards in each family.
const DeckSize = 30

// moneyValues is the fixed money multiset: two 0s and two of each 2000..15000.
var moneyValues = [DeckSize]int{
	2000, 3000, 4000, 5000, 6000, 7000, 8000, 9000, 10000, 11000, 12000, 13000, 14000, 15000,
	15000, 14000, 13000, 12000, 11000, 10000, 9000, 8000, 7000, 6000, 5000, 4000, 3000, 2000,
	0, 0,
}

// PropertyCards returns a fresh, ordered copy of the 30 property cards.
func PropertyCards() []PropertyCard {
	out := make([]PropertyCard, DeckSize)
	for i := range out {
		out[i] = PropertyCard{ID: i + 1, Value: i + 1}
	}
	return out
}

// MoneyCards returns a fresh, ordered copy of the 30 money cards.
func MoneyCards() []MoneyCard {
	out := make([]MoneyCard, DeckSize)
	for i, v := range moneyValues {
		out[i] = MoneyCard{ID: i + 1, Value: v}
	}
	return out
}

// newRand returns a ChaCha8 generator seeded from crypto/rand.
func newRand() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the runtime source.
		binary.LittleEndian.PutUint64(seed[:], rand.Uint64())
	}
	return rand.New(rand.NewChaCha8(seed))
}

// shuffle is an in-place Fisher-Yates driven by r.
func shuffle[T any](r *rand.Rand, s []T) {
	r.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
