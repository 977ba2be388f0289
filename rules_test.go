package main

import (
	"testing"
)

func testGame(lives, stars int, hands map[string][]int) *gameRecord {
	g := &gameRecord{
		Level:     1,
		Lives:     lives,
		Stars:     stars,
		MaxLevels: 10,
		Hands:     make(map[string][]int),
		StarVotes: make(map[string]bool),
	}
	for player, hand := range hands {
		g.Hands[player] = append([]int{}, hand...)
	}
	return g
}

func TestOrderedPlaysAreValid(t *testing.T) {
	g := testGame(3, 1, map[string][]int{
		"alice": {5, 30},
		"bob":   {10},
	})

	for _, play := range []struct {
		player string
		rank   int
	}{
		{"alice", 5},
		{"bob", 10},
		{"alice", 30},
	} {
		decision, err := validatePlay(g, play.player, play.rank)
		if err != nil {
			t.Fatalf("play %d by %s: unexpected error %v", play.rank, play.player, err)
		}
		if decision.Verdict != playValid {
			t.Fatalf("play %d by %s: got verdict %v, want valid", play.rank, play.player, decision.Verdict)
		}
		applyPlay(g, play.player, play.rank)
	}

	want := []int{5, 10, 30}
	if len(g.CentralPile) != len(want) {
		t.Fatalf("pile length %d, want %d", len(g.CentralPile), len(want))
	}
	for i, rank := range want {
		if g.CentralPile[i] != rank {
			t.Errorf("pile[%d] = %d, want %d", i, g.CentralPile[i], rank)
		}
	}
	if len(g.Hands) != 0 {
		t.Errorf("hands not emptied: %v", g.Hands)
	}
}

func TestExplicitErrorReferencesPlayedCard(t *testing.T) {
	g := testGame(3, 1, map[string][]int{
		"alice": {25},
		"bob":   {60},
	})
	g.CentralPile = []int{40}

	decision, err := validatePlay(g, "alice", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Verdict != playExplicitError {
		t.Fatalf("got verdict %v, want explicit error", decision.Verdict)
	}
	if decision.ReferenceRank != 25 {
		t.Errorf("reference rank %d, want 25 (the played card)", decision.ReferenceRank)
	}
}

func TestImplicitErrorReferencesLowestOutstanding(t *testing.T) {
	g := testGame(3, 1, map[string][]int{
		"alice": {20},
		"bob":   {7, 55},
	})

	decision, err := validatePlay(g, "alice", 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Verdict != playImplicitError {
		t.Fatalf("got verdict %v, want implicit error", decision.Verdict)
	}
	if decision.ReferenceRank != 7 {
		t.Errorf("reference rank %d, want 7 (lowest outstanding)", decision.ReferenceRank)
	}
}

func TestImplicitErrorPenaltyKeepsPlayedCard(t *testing.T) {
	// An invalid play is never applied: the offending card stays in hand
	// (unless the threshold discard also catches it) and the pile is
	// untouched.
	g := testGame(3, 1, map[string][]int{
		"alice": {5},
		"bob":   {3},
	})

	decision, err := validatePlay(g, "alice", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Verdict != playImplicitError || decision.ReferenceRank != 3 {
		t.Fatalf("got %v ref %d, want implicit error ref 3", decision.Verdict, decision.ReferenceRank)
	}

	applyPenalty(g, []string{"alice", "bob"}, decision.ReferenceRank)

	if len(g.CentralPile) != 0 {
		t.Errorf("pile = %v, want untouched", g.CentralPile)
	}
	if hand := g.Hand("alice"); len(hand) != 1 || hand[0] != 5 {
		t.Errorf("alice hand = %v, the played 5 is above the threshold and stays", hand)
	}
	if len(g.Hand("bob")) != 0 {
		t.Errorf("bob hand = %v, the skipped 3 is at the threshold and goes", g.Hand("bob"))
	}
	if len(g.DiscardedCards) != 1 || g.DiscardedCards[0] != 3 {
		t.Errorf("discarded %v, want [3]", g.DiscardedCards)
	}
}

func TestImplicitErrorAgainstOwnLowerCard(t *testing.T) {
	g := testGame(3, 1, map[string][]int{
		"alice": {3, 9},
	})

	decision, err := validatePlay(g, "alice", 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Verdict != playImplicitError || decision.ReferenceRank != 3 {
		t.Errorf("got %v ref %d, want implicit error ref 3", decision.Verdict, decision.ReferenceRank)
	}
}

func TestExplicitCheckedBeforeImplicit(t *testing.T) {
	// The card is both below the pile top and above an outstanding card;
	// the explicit rule wins and the reference is the played card.
	g := testGame(3, 1, map[string][]int{
		"alice": {25},
		"bob":   {10},
	})
	g.CentralPile = []int{40}

	decision, err := validatePlay(g, "alice", 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Verdict != playExplicitError || decision.ReferenceRank != 25 {
		t.Errorf("got %v ref %d, want explicit error ref 25", decision.Verdict, decision.ReferenceRank)
	}
}

func TestPlayRejectsUnheldCard(t *testing.T) {
	g := testGame(3, 1, map[string][]int{"alice": {5}})

	if _, err := validatePlay(g, "alice", 6); err != errNotYourCard {
		t.Errorf("got %v, want errNotYourCard", err)
	}
	if _, err := validatePlay(g, "bob", 5); err != errNotYourCard {
		t.Errorf("got %v, want errNotYourCard for absent player", err)
	}
}

func TestPlayRejectsFinishedGame(t *testing.T) {
	g := testGame(3, 1, map[string][]int{"alice": {5}})
	g.GameOver = true

	if _, err := validatePlay(g, "alice", 5); err != errGameInactive {
		t.Errorf("got %v, want errGameInactive", err)
	}
	if _, err := validatePlay(nil, "alice", 5); err != errGameInactive {
		t.Errorf("nil game: got %v, want errGameInactive", err)
	}
}

func TestPenaltyDiscardsThreshold(t *testing.T) {
	g := testGame(3, 1, map[string][]int{
		"alice": {2, 50},
		"bob":   {7, 60},
	})
	roster := []string{"alice", "bob"}

	outcome := applyPenalty(g, roster, 7)

	if outcome.Terminal {
		t.Fatal("penalty should not be terminal with 3 lives")
	}
	if g.Lives != 2 || outcome.Lives != 2 {
		t.Errorf("lives = %d/%d, want 2", g.Lives, outcome.Lives)
	}
	if len(g.DiscardedCards) != 2 {
		t.Fatalf("discarded %v, want two cards", g.DiscardedCards)
	}
	total := 0
	for _, c := range g.DiscardedCards {
		total += c
	}
	if total != 2+7 {
		t.Errorf("discarded %v, want cards 2 and 7", g.DiscardedCards)
	}
	if len(g.Hand("alice")) != 1 || g.Hand("alice")[0] != 50 {
		t.Errorf("alice hand = %v, want [50]", g.Hand("alice"))
	}
	if len(g.Hand("bob")) != 1 || g.Hand("bob")[0] != 60 {
		t.Errorf("bob hand = %v, want [60]", g.Hand("bob"))
	}
}

func TestPenaltyOnLastLifeEndsGame(t *testing.T) {
	g := testGame(1, 1, map[string][]int{
		"alice": {2, 50},
		"bob":   {7},
	})

	outcome := applyPenalty(g, []string{"alice", "bob"}, 7)

	if !outcome.Terminal {
		t.Fatal("expected terminal outcome")
	}
	if !g.GameOver || g.Victory {
		t.Errorf("gameOver=%v victory=%v, want defeat", g.GameOver, g.Victory)
	}
	if g.Lives != 0 {
		t.Errorf("lives = %d, want 0", g.Lives)
	}
}

func TestPenaltyEmptiesHandCompletely(t *testing.T) {
	g := testGame(2, 1, map[string][]int{
		"alice": {2, 3},
		"bob":   {90},
	})

	applyPenalty(g, []string{"alice", "bob"}, 5)

	if len(g.Hand("alice")) != 0 {
		t.Errorf("alice hand = %v, want empty", g.Hand("alice"))
	}
	if _, present := g.Hands["alice"]; present {
		t.Error("emptied hand should be removed from the map, not left as a zero-length slice")
	}
}
