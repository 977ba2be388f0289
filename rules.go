package main

import (
	"errors"
	"fmt"
	"slices"
)

// Play validation and penalty resolution are pure: they take a freshly
// fetched game snapshot and either return a verdict or mutate only that
// snapshot. Persisting the result is the caller's job, inside a store
// transaction, so a stale local mirror can never leak into a write.

var (
	errGameInactive = errors.New("game is not active")
	errNotYourCard  = errors.New("you do not hold that card")
)

type playVerdict int

const (
	playValid playVerdict = iota
	playExplicitError
	playImplicitError
)

func (v playVerdict) String() string {
	switch v {
	case playValid:
		return "valid"
	case playExplicitError:
		return "explicit error"
	case playImplicitError:
		return "implicit error"
	default:
		return fmt.Sprintf("playVerdict(%d)", int(v))
	}
}

// playDecision carries the verdict and, for invalid plays, the reference
// rank used as the discard threshold: the played card for an explicit
// error, the skipped lowest outstanding card for an implicit one.
type playDecision struct {
	Verdict       playVerdict
	ReferenceRank int
}

// lowestOutstanding finds the minimum rank still held across all hands,
// ignoring the card the acting player is about to play.
func lowestOutstanding(g *gameRecord, player string, rank int) (int, bool) {
	lowest := 0
	found := false
	for holder, hand := range g.Hands {
		skipped := false
		for _, c := range hand {
			if holder == player && c == rank && !skipped {
				skipped = true
				continue
			}
			if !found || c < lowest {
				lowest = c
				found = true
			}
		}
	}
	return lowest, found
}

// validatePlay judges a candidate play against the snapshot. It performs no
// writes; a valid play is applied with applyPlay.
func validatePlay(g *gameRecord, player string, rank int) (playDecision, error) {
	if g == nil || g.GameOver {
		return playDecision{}, errGameInactive
	}
	if !slices.Contains(g.Hand(player), rank) {
		return playDecision{}, errNotYourCard
	}

	if len(g.CentralPile) > 0 {
		top := g.CentralPile[len(g.CentralPile)-1]
		if rank < top {
			return playDecision{Verdict: playExplicitError, ReferenceRank: rank}, nil
		}
	}

	if lowest, ok := lowestOutstanding(g, player, rank); ok && rank > lowest {
		return playDecision{Verdict: playImplicitError, ReferenceRank: lowest}, nil
	}

	return playDecision{Verdict: playValid}, nil
}

// applyPlay moves the card from the player's hand onto the central pile.
func applyPlay(g *gameRecord, player string, rank int) {
	hand := g.Hand(player)
	if i := slices.Index(hand, rank); i >= 0 {
		hand = append(hand[:i], hand[i+1:]...)
	}
	g.setHand(player, hand)
	g.CentralPile = append(g.CentralPile, rank)
}

// penaltyOutcome reports the result of resolving an invalid play.
type penaltyOutcome struct {
	Lives    int
	Terminal bool
}

// applyPenalty deducts a life and, if the game survives, discards every
// held card at or below the reference rank from every roster member. The
// threshold discard removes the cards a skipped lower card made
// unplayable, so the same implicit error cannot immediately re-trigger.
// Deterministic in its inputs: the same snapshot yields the same result.
func applyPenalty(g *gameRecord, roster []string, referenceRank int) penaltyOutcome {
	g.Lives--
	if g.Lives <= 0 {
		g.Lives = 0
		g.GameOver = true
		g.Victory = false
		return penaltyOutcome{Lives: 0, Terminal: true}
	}

	for _, player := range roster {
		hand := g.Hand(player)
		kept := hand[:0]
		for _, c := range hand {
			if c <= referenceRank {
				g.DiscardedCards = append(g.DiscardedCards, c)
			} else {
				kept = append(kept, c)
			}
		}
		g.setHand(player, kept)
	}

	return penaltyOutcome{Lives: g.Lives}
}
