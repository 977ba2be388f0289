package main

import (
	"encoding/json"
	"math/rand"
	"testing"
)

func readRoom(t *testing.T, s sharedStore, id string) *roomRecord {
	t.Helper()
	snap, ok := s.Read(roomPath(id))
	if !ok {
		t.Fatal("room missing from tree")
	}
	room, ok := decodeRoom(snap)
	if !ok {
		t.Fatal("room failed to decode")
	}
	return room
}

func TestRoomLifecycle(t *testing.T) {
	s := newMemoryStore()
	rng := rand.New(rand.NewSource(6))

	id, err := createRoom(s, "den", "alice", 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	room := readRoom(t, s, id)
	if room.Status != statusWaiting || room.Host != "alice" {
		t.Fatalf("fresh room: status=%s host=%s", room.Status, room.Host)
	}
	if room.Config != (gameConfig{Levels: 10, Lives: 3, Stars: 1}) {
		t.Errorf("3-player preset wrong: %+v", room.Config)
	}
	if connected := room.Players["alice"]; connected {
		t.Error("creator should be seated but not yet connected")
	}

	// The creator's game connection reclaims the seat; a stranger with the
	// same name is rejected once it is held.
	if err := joinRoom(s, id, "alice"); err != nil {
		t.Fatalf("creator join: %v", err)
	}
	if err := joinRoom(s, id, "alice"); err != errNameTaken {
		t.Errorf("got %v, want errNameTaken", err)
	}

	if err := joinRoom(s, id, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := joinRoom(s, id, "carol"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := joinRoom(s, id, "dave"); err != errRoomFull {
		t.Errorf("got %v, want errRoomFull", err)
	}

	if err := startGame(s, id, "bob", rng); err != errNotHost {
		t.Errorf("got %v, want errNotHost", err)
	}
	if err := startGame(s, id, "alice", rng); err != nil {
		t.Fatalf("start: %v", err)
	}

	room = readRoom(t, s, id)
	if room.Status != statusPlaying || room.Game == nil {
		t.Fatal("start did not begin a game")
	}
	g := room.Game
	if g.Level != 1 || g.Lives != 3 || g.Stars != 1 || g.MaxLevels != 10 {
		t.Errorf("level-1 state wrong: %+v", g)
	}
	for _, player := range room.Roster() {
		if len(g.Hand(player)) != 1 {
			t.Errorf("%s holds %d cards, want 1 at level 1", player, len(g.Hand(player)))
		}
	}
	if len(g.Deck) != deckSize-3 {
		t.Errorf("deck %d, want %d", len(g.Deck), deckSize-3)
	}

	if err := joinRoom(s, id, "eve"); err != errRoomStarted {
		t.Errorf("got %v, want errRoomStarted", err)
	}
	if err := startGame(s, id, "alice", rng); err != errRoomNotIdle {
		t.Errorf("got %v, want errRoomNotIdle", err)
	}
}

func TestRoomCreationValidation(t *testing.T) {
	s := newMemoryStore()

	if _, err := createRoom(s, "den", "alice", 5); err != errInvalidCount {
		t.Errorf("got %v, want errInvalidCount", err)
	}
	if _, err := createRoom(s, "den", "", 2); err != errInvalidName {
		t.Errorf("got %v, want errInvalidName", err)
	}
	if _, err := createRoom(s, "a/b", "alice", 2); err != errInvalidName {
		t.Errorf("slash in room name: got %v, want errInvalidName", err)
	}
	if err := joinRoom(s, "nope", "alice"); err != errRoomNotFound {
		t.Errorf("got %v, want errRoomNotFound", err)
	}
}

func TestLeaveRoomHandsOffHost(t *testing.T) {
	s := newMemoryStore()

	id, err := createRoom(s, "den", "alice", 3)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := joinRoom(s, id, name); err != nil {
			t.Fatalf("join %s: %v", name, err)
		}
	}

	if err := leaveRoom(s, id, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	room := readRoom(t, s, id)
	if room.Host != "bob" {
		t.Errorf("host = %s, want bob (first remaining, sorted)", room.Host)
	}

	if err := leaveRoom(s, id, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := leaveRoom(s, id, "carol"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, ok := s.Read(roomPath(id)); ok {
		t.Error("the last player out should delete the room")
	}
}

// Room trees round-trip through JSON for the snapshot table, which turns
// every number into a float64. The decoders must absorb that.
func TestDecodeRoomAfterJSONRoundTrip(t *testing.T) {
	room := &roomRecord{
		Name:       "den",
		MaxPlayers: 2,
		Status:     statusPlaying,
		Host:       "alice",
		Players:    map[string]bool{"alice": true, "bob": false},
		Config:     roomPresets[2],
		Game: &gameRecord{
			Level:          3,
			Lives:          2,
			Stars:          1,
			MaxLevels:      12,
			Deck:           []int{42, 17},
			Hands:          map[string][]int{"alice": {5, 80}},
			CentralPile:    []int{1, 2},
			DiscardedCards: []int{3},
			StarProposal:   "bob",
			StarVotes:      map[string]bool{"bob": true},
		},
	}

	data, err := json.Marshal(encodeRoom(room))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, ok := decodeRoom(tree)
	if !ok {
		t.Fatal("decode failed")
	}
	if got.Name != room.Name || got.MaxPlayers != room.MaxPlayers || got.Host != room.Host {
		t.Errorf("room fields lost: %+v", got)
	}
	if got.Players["alice"] != true || got.Players["bob"] != false {
		t.Errorf("connected flags lost: %v", got.Players)
	}
	g := got.Game
	if g == nil {
		t.Fatal("game lost in round trip")
	}
	if g.Level != 3 || g.Lives != 2 || g.MaxLevels != 12 {
		t.Errorf("game counters lost: %+v", g)
	}
	hand := g.Hand("alice")
	if len(hand) != 2 || hand[0] != 5 || hand[1] != 80 {
		t.Errorf("hand lost: %v", hand)
	}
	if g.StarProposal != "bob" || !g.StarVotes["bob"] {
		t.Errorf("star state lost: proposal=%q votes=%v", g.StarProposal, g.StarVotes)
	}
}
