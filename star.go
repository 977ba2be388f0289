package main

import (
	"errors"
	"sort"
)

// The ninja star is a unanimous-consent action: one player proposes, the
// proposer implicitly votes yes, every other player must agree, and any
// single no-vote cancels the proposal outright. All transitions below
// mutate a freshly fetched snapshot inside a store transaction.

var (
	errNoStars        = errors.New("no stars available")
	errProposalActive = errors.New("a star proposal is already active")
	errNoProposal     = errors.New("no star proposal is active")
	errAlreadyVoted   = errors.New("already voted on this proposal")
)

// proposeStar opens a proposal. Idle -> Voting.
func proposeStar(g *gameRecord, player string) error {
	if g == nil || g.GameOver {
		return errGameInactive
	}
	if g.Stars <= 0 {
		return errNoStars
	}
	if g.StarProposal != "" {
		return errProposalActive
	}

	g.StarProposal = player
	g.StarVotes = map[string]bool{player: true}
	return nil
}

// voteStarYes records an agreement. Duplicate votes are rejected.
func voteStarYes(g *gameRecord, player string) error {
	if g == nil || g.GameOver {
		return errGameInactive
	}
	if g.StarProposal == "" {
		return errNoProposal
	}
	if g.StarVotes[player] {
		return errAlreadyVoted
	}

	if g.StarVotes == nil {
		g.StarVotes = make(map[string]bool)
	}
	g.StarVotes[player] = true
	return nil
}

// voteStarNo cancels the proposal unconditionally, regardless of how many
// yes votes had accumulated. Voting -> Idle. A no against an already
// cleared proposal is a no-op.
func voteStarNo(g *gameRecord) {
	if g == nil {
		return
	}
	g.StarProposal = ""
	g.StarVotes = make(map[string]bool)
}

// starUnanimous reports whether every current roster member has voted yes.
func starUnanimous(g *gameRecord, roster []string) bool {
	if g == nil || g.StarProposal == "" || len(roster) == 0 {
		return false
	}
	for _, player := range roster {
		if !g.StarVotes[player] {
			return false
		}
	}
	return true
}

// executeStar burns a star: each roster member discards their single
// lowest held card. Returns false without touching the snapshot when the
// proposal was already cleared by a concurrent execution, making the call
// an idempotent no-op.
func executeStar(g *gameRecord, roster []string) bool {
	if g == nil || g.GameOver || g.StarProposal == "" || g.Stars <= 0 {
		return false
	}

	g.Stars--
	g.StarProposal = ""
	g.StarVotes = make(map[string]bool)

	for _, player := range roster {
		hand := g.Hand(player)
		if len(hand) == 0 {
			continue
		}
		sort.Ints(hand)
		g.DiscardedCards = append(g.DiscardedCards, hand[0])
		g.setHand(player, hand[1:])
	}
	return true
}
