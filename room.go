package main

import (
	"errors"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const roomsPath = "rooms"

func roomPath(id string) string    { return roomsPath + "/" + id }
func gamePath(id string) string    { return roomsPath + "/" + id + "/game" }
func playersPath(id string) string { return roomsPath + "/" + id + "/players" }
func playerPath(id, name string) string {
	return roomsPath + "/" + id + "/players/" + name
}

// gameConfig is fixed by player count, following the official rules.
type gameConfig struct {
	Levels int
	Lives  int
	Stars  int
}

var roomPresets = map[int]gameConfig{
	2: {Levels: 12, Lives: 2, Stars: 1},
	3: {Levels: 10, Lives: 3, Stars: 1},
	4: {Levels: 8, Lives: 4, Stars: 1},
}

const (
	statusWaiting = "waiting"
	statusPlaying = "playing"
)

type roomRecord struct {
	Name       string
	MaxPlayers int
	Status     string
	Host       string
	Players    map[string]bool
	Config     gameConfig
	Game       *gameRecord
}

type gameRecord struct {
	Level          int
	Lives          int
	Stars          int
	MaxLevels      int
	Deck           []int
	Hands          map[string][]int
	CentralPile    []int
	DiscardedCards []int
	StarProposal   string
	StarVotes      map[string]bool
	GameOver       bool
	Victory        bool
}

// Roster returns the durable player list, sorted for deterministic dealing.
// Hands may vanish from the tree when they empty out; the roster never does.
func (r *roomRecord) Roster() []string {
	names := make([]string, 0, len(r.Players))
	for name := range r.Players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hand returns the player's hand, treating an absent entry as empty.
func (g *gameRecord) Hand(player string) []int {
	if g.Hands == nil {
		return nil
	}
	return g.Hands[player]
}

func (g *gameRecord) setHand(player string, hand []int) {
	if len(hand) == 0 {
		delete(g.Hands, player)
		return
	}
	if g.Hands == nil {
		g.Hands = make(map[string][]int)
	}
	g.Hands[player] = hand
}

// ---- tree codecs ----

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// ensureRanks normalizes a stored card collection: absent, a bare rank, or a
// list all become a []int. The store prunes empty collections, so decoders
// can never rely on presence.
func ensureRanks(v any) []int {
	switch t := v.(type) {
	case nil:
		return nil
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		return out
	case []any:
		out := make([]int, 0, len(t))
		for _, c := range t {
			out = append(out, asInt(c))
		}
		return out
	case int, int64, float64:
		return []int{asInt(t)}
	default:
		return nil
	}
}

func decodeRoom(v any) (*roomRecord, bool) {
	m := asMap(v)
	if m == nil {
		return nil, false
	}

	r := &roomRecord{
		Name:       asString(m["name"]),
		MaxPlayers: asInt(m["maxPlayers"]),
		Status:     asString(m["status"]),
		Host:       asString(m["host"]),
		Players:    make(map[string]bool),
	}

	for name, p := range asMap(m["players"]) {
		r.Players[name] = asBool(asMap(p)["connected"])
	}

	if cfg := asMap(m["config"]); cfg != nil {
		r.Config = gameConfig{
			Levels: asInt(cfg["levels"]),
			Lives:  asInt(cfg["lives"]),
			Stars:  asInt(cfg["stars"]),
		}
	}

	if g, ok := decodeGame(m["game"]); ok {
		r.Game = g
	}

	return r, true
}

func decodeGame(v any) (*gameRecord, bool) {
	m := asMap(v)
	if m == nil {
		return nil, false
	}

	g := &gameRecord{
		Level:          asInt(m["level"]),
		Lives:          asInt(m["lives"]),
		Stars:          asInt(m["stars"]),
		MaxLevels:      asInt(m["maxLevels"]),
		Deck:           ensureRanks(m["deck"]),
		CentralPile:    ensureRanks(m["centralPile"]),
		DiscardedCards: ensureRanks(m["discardedCards"]),
		StarProposal:   asString(m["starProposal"]),
		GameOver:       asBool(m["gameOver"]),
		Victory:        asBool(m["victory"]),
		Hands:          make(map[string][]int),
		StarVotes:      make(map[string]bool),
	}

	for player, hand := range asMap(m["hands"]) {
		if ranks := ensureRanks(hand); len(ranks) > 0 {
			g.Hands[player] = ranks
		}
	}
	for player, yes := range asMap(m["starVotes"]) {
		if asBool(yes) {
			g.StarVotes[player] = true
		}
	}

	return g, true
}

func encodeRoom(r *roomRecord) map[string]any {
	players := make(map[string]any, len(r.Players))
	for name, connected := range r.Players {
		players[name] = map[string]any{"connected": connected}
	}

	m := map[string]any{
		"name":       r.Name,
		"maxPlayers": r.MaxPlayers,
		"status":     r.Status,
		"host":       r.Host,
		"players":    players,
		"config": map[string]any{
			"levels": r.Config.Levels,
			"lives":  r.Config.Lives,
			"stars":  r.Config.Stars,
		},
	}
	if r.Game != nil {
		m["game"] = encodeGame(r.Game)
	}
	return m
}

func encodeGame(g *gameRecord) map[string]any {
	hands := make(map[string]any, len(g.Hands))
	for player, hand := range g.Hands {
		if len(hand) > 0 {
			hands[player] = append([]int{}, hand...)
		}
	}
	votes := make(map[string]any, len(g.StarVotes))
	for player, yes := range g.StarVotes {
		if yes {
			votes[player] = true
		}
	}

	m := map[string]any{
		"level":          g.Level,
		"lives":          g.Lives,
		"stars":          g.Stars,
		"maxLevels":      g.MaxLevels,
		"deck":           append([]int{}, g.Deck...),
		"hands":          hands,
		"centralPile":    append([]int{}, g.CentralPile...),
		"discardedCards": append([]int{}, g.DiscardedCards...),
		"starVotes":      votes,
		"gameOver":       g.GameOver,
		"victory":        g.Victory,
	}
	if g.StarProposal != "" {
		m["starProposal"] = g.StarProposal
	}
	return m
}

// ---- lobby operations ----

var (
	errRoomNotFound = errors.New("room does not exist or was closed")
	errRoomFull     = errors.New("room is full")
	errRoomStarted  = errors.New("game already started in this room")
	errNameTaken    = errors.New("a player with that name is already in this room")
	errInvalidName  = errors.New("invalid name")
	errInvalidCount = errors.New("invalid player count")
	errNotHost      = errors.New("only the host can start the game")
	errNotEnough    = errors.New("at least 2 players are required")
	errRoomNotIdle  = errors.New("room is not waiting")
)

func validName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && len(name) <= 32 && !strings.ContainsAny(name, "/\n\r")
}

// createRoom writes a fresh waiting room and seats the creator as host.
func createRoom(store sharedStore, roomName, playerName string, maxPlayers int) (string, error) {
	if !validName(roomName) || !validName(playerName) {
		return "", errInvalidName
	}
	preset, ok := roomPresets[maxPlayers]
	if !ok {
		return "", errInvalidCount
	}

	// The creator is seated immediately but marked disconnected until their
	// game connection claims the seat.
	id := uuid.NewString()
	room := &roomRecord{
		Name:       strings.TrimSpace(roomName),
		MaxPlayers: maxPlayers,
		Status:     statusWaiting,
		Host:       strings.TrimSpace(playerName),
		Players:    map[string]bool{strings.TrimSpace(playerName): false},
		Config:     preset,
	}
	store.Write(roomPath(id), encodeRoom(room))

	return id, nil
}

// joinRoom seats a player in a waiting room, revalidating against the
// freshly read record inside the transaction.
func joinRoom(store sharedStore, roomID, playerName string) error {
	if !validName(playerName) {
		return errInvalidName
	}
	playerName = strings.TrimSpace(playerName)

	return store.Update(roomPath(roomID), func(current any) (any, error) {
		room, ok := decodeRoom(current)
		if !ok {
			return nil, errRoomNotFound
		}
		if connected, seated := room.Players[playerName]; seated {
			if connected {
				return nil, errNameTaken
			}
			// Reclaiming a vacated seat: room creation and reconnects.
			room.Players[playerName] = true
			return encodeRoom(room), nil
		}
		if room.Status != statusWaiting {
			return nil, errRoomStarted
		}
		if len(room.Players) >= room.MaxPlayers {
			return nil, errRoomFull
		}

		room.Players[playerName] = true
		return encodeRoom(room), nil
	})
}

// leaveRoom removes a player; the last player out deletes the room, and a
// departing host hands the room to the first remaining player.
func leaveRoom(store sharedStore, roomID, playerName string) error {
	return store.Update(roomPath(roomID), func(current any) (any, error) {
		room, ok := decodeRoom(current)
		if !ok {
			return nil, nil
		}

		delete(room.Players, playerName)
		if len(room.Players) == 0 {
			return nil, nil // room destroyed
		}
		if room.Host == playerName {
			room.Host = room.Roster()[0]
		}
		return encodeRoom(room), nil
	})
}

// startGame flips a waiting room to playing and deals level 1: one card per
// player from a fresh shuffled deck.
func startGame(store sharedStore, roomID, playerName string, rng *rand.Rand) error {
	return store.Update(roomPath(roomID), func(current any) (any, error) {
		room, ok := decodeRoom(current)
		if !ok {
			return nil, errRoomNotFound
		}
		if room.Status != statusWaiting {
			return nil, errRoomNotIdle
		}
		if room.Host != playerName {
			return nil, errNotHost
		}
		roster := room.Roster()
		if len(roster) < 2 {
			return nil, errNotEnough
		}

		deck := newDeck(rng)
		hands, rest := dealHands(deck, roster, 1)

		room.Status = statusPlaying
		room.Game = &gameRecord{
			Level:     1,
			Lives:     room.Config.Lives,
			Stars:     room.Config.Stars,
			MaxLevels: room.Config.Levels,
			Deck:      rest,
			Hands:     hands,
		}
		return encodeRoom(room), nil
	})
}
