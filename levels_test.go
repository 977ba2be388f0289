package main

import (
	"math/rand"
	"testing"
)

func TestNewDeckCoversAllRanks(t *testing.T) {
	deck := newDeck(rand.New(rand.NewSource(1)))

	if len(deck) != deckSize {
		t.Fatalf("deck size %d, want %d", len(deck), deckSize)
	}
	seen := make(map[int]bool, deckSize)
	for _, c := range deck {
		if c < 1 || c > deckSize {
			t.Fatalf("rank %d out of range", c)
		}
		if seen[c] {
			t.Fatalf("duplicate rank %d", c)
		}
		seen[c] = true
	}
}

func TestDealHandsConservesCards(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	roster := []string{"alice", "bob", "carol"}

	hands, rest := dealHands(newDeck(rng), roster, 4)

	if len(rest) != deckSize-3*4 {
		t.Errorf("remaining deck %d, want %d", len(rest), deckSize-3*4)
	}
	seen := make(map[int]bool, deckSize)
	for _, c := range rest {
		seen[c] = true
	}
	for _, player := range roster {
		hand := hands[player]
		if len(hand) != 4 {
			t.Errorf("%s holds %d cards, want 4", player, len(hand))
		}
		for i, c := range hand {
			if seen[c] {
				t.Errorf("rank %d dealt twice", c)
			}
			seen[c] = true
			if i > 0 && hand[i-1] > c {
				t.Errorf("%s hand not sorted: %v", player, hand)
			}
		}
	}
	if len(seen) != deckSize {
		t.Errorf("cards lost in deal: %d accounted for", len(seen))
	}
}

func TestLevelCompleteCountsAbsentHandsAsEmpty(t *testing.T) {
	roster := []string{"alice", "bob"}

	g := testGame(3, 1, nil)
	if !levelComplete(g, roster) {
		t.Error("all hands absent should read as complete")
	}

	g = testGame(3, 1, map[string][]int{"bob": {42}})
	if levelComplete(g, roster) {
		t.Error("one outstanding card should not be complete")
	}

	g.GameOver = true
	g.Hands = nil
	if levelComplete(g, roster) {
		t.Error("a finished game never completes a level")
	}
}

func TestAdvanceGrantsRewards(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	roster := []string{"alice", "bob"}

	for _, tc := range []struct {
		completed int
		lives     int
		stars     int
		wantLives int
		wantStars int
	}{
		{completed: 1, lives: 2, stars: 1, wantLives: 2, wantStars: 1},               // no reward
		{completed: 2, lives: 2, stars: 1, wantLives: 2, wantStars: 2},               // star
		{completed: 3, lives: 2, stars: 1, wantLives: 3, wantStars: 1},               // life
		{completed: 6, lives: maxLives, stars: 1, wantLives: maxLives, wantStars: 1}, // life capped
		{completed: 8, lives: 2, stars: maxStars, wantLives: 2, wantStars: maxStars}, // star capped
	} {
		g := testGame(tc.lives, tc.stars, nil)
		g.Level = tc.completed
		g.MaxLevels = 12

		if victory := advanceGame(g, roster, rng); victory {
			t.Fatalf("level %d: unexpected victory", tc.completed)
		}
		if g.Lives != tc.wantLives || g.Stars != tc.wantStars {
			t.Errorf("after level %d: lives=%d stars=%d, want lives=%d stars=%d",
				tc.completed, g.Lives, g.Stars, tc.wantLives, tc.wantStars)
		}
		if g.Level != tc.completed+1 {
			t.Errorf("level = %d, want %d", g.Level, tc.completed+1)
		}
	}
}

func TestAdvanceDealsFreshRound(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	roster := []string{"alice", "bob", "carol"}

	g := testGame(3, 1, nil)
	g.Level = 4
	g.MaxLevels = 10
	g.CentralPile = []int{1, 2, 3}
	g.DiscardedCards = []int{9}
	g.StarProposal = "alice"
	g.StarVotes = map[string]bool{"alice": true}

	if victory := advanceGame(g, roster, rng); victory {
		t.Fatal("unexpected victory")
	}

	if g.Level != 5 {
		t.Fatalf("level = %d, want 5", g.Level)
	}
	for _, player := range roster {
		if len(g.Hand(player)) != 5 {
			t.Errorf("%s holds %d cards, want 5", player, len(g.Hand(player)))
		}
	}
	if len(g.Deck) != deckSize-3*5 {
		t.Errorf("deck %d, want %d", len(g.Deck), deckSize-3*5)
	}
	if len(g.CentralPile) != 0 || len(g.DiscardedCards) != 0 {
		t.Error("pile and discards should reset between levels")
	}
	if g.StarProposal != "" || len(g.StarVotes) != 0 {
		t.Error("star proposal should not survive a level transition")
	}
}

func TestAdvancePastFinalLevelIsVictory(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	g := testGame(1, 0, nil)
	g.Level = 12
	g.MaxLevels = 12

	if victory := advanceGame(g, []string{"alice", "bob"}, rng); !victory {
		t.Fatal("expected victory")
	}
	if !g.GameOver || !g.Victory {
		t.Errorf("gameOver=%v victory=%v, want both true", g.GameOver, g.Victory)
	}
	if g.Level != 12 {
		t.Errorf("level = %d; no level past the maximum should ever be stored", g.Level)
	}
}
