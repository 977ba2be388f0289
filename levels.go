package main

import (
	"math/rand"
	"sort"
)

const (
	deckSize = 100
	maxLives = 5
	maxStars = 3
)

const (
	rewardLife = "life"
	rewardStar = "star"
)

// levelRewards maps a *completed* level to the reward granted on entering
// the next one. Rewards past the caps are silently dropped.
var levelRewards = map[int]string{
	2: rewardStar,
	3: rewardLife,
	5: rewardStar,
	6: rewardLife,
	8: rewardStar,
	9: rewardLife,
}

// newDeck returns a freshly shuffled 1..100 deck. The deck is regenerated
// at the start of every level; cards never carry over.
func newDeck(rng *rand.Rand) []int {
	deck := make([]int, deckSize)
	for i := range deck {
		deck[i] = i + 1
	}
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}

// dealHands draws n cards for each roster member from the end of the deck
// and returns the hands plus the remaining deck. Hands are kept sorted for
// display; order within a hand carries no game meaning.
func dealHands(deck []int, roster []string, n int) (map[string][]int, []int) {
	hands := make(map[string][]int, len(roster))
	for _, player := range roster {
		hand := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if len(deck) == 0 {
				break
			}
			hand = append(hand, deck[len(deck)-1])
			deck = deck[:len(deck)-1]
		}
		sort.Ints(hand)
		hands[player] = hand
	}
	return hands, deck
}

// handTotal sums hand sizes across the durable roster. Hands evaporate
// from the tree once empty, so counting over the hands map itself would
// undercount; an absent entry is simply a hand of size zero.
func handTotal(g *gameRecord, roster []string) int {
	total := 0
	for _, player := range roster {
		total += len(g.Hand(player))
	}
	return total
}

// levelComplete reports whether every roster member's hand is empty.
func levelComplete(g *gameRecord, roster []string) bool {
	return g != nil && !g.GameOver && handTotal(g, roster) == 0
}

// advanceGame moves a completed level forward in place: victory when the
// next level would exceed the maximum, otherwise reward, fresh deck, new
// hands, and a clean round state. Returns true on victory, in which case
// only the terminal flags are set; no level past the maximum is ever
// stored.
func advanceGame(g *gameRecord, roster []string, rng *rand.Rand) (victory bool) {
	next := g.Level + 1
	if next > g.MaxLevels {
		g.GameOver = true
		g.Victory = true
		return true
	}

	switch levelRewards[g.Level] {
	case rewardLife:
		if g.Lives < maxLives {
			g.Lives++
		}
	case rewardStar:
		if g.Stars < maxStars {
			g.Stars++
		}
	}

	deck := newDeck(rng)
	hands, rest := dealHands(deck, roster, next)

	g.Level = next
	g.Deck = rest
	g.Hands = hands
	g.CentralPile = nil
	g.DiscardedCards = nil
	g.StarProposal = ""
	g.StarVotes = make(map[string]bool)
	return false
}
