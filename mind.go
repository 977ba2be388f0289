package main

// The Mind, played in the browser.
//
// Players hold private hands of cards numbered 1..100 and must play them
// onto a shared pile in ascending order without talking. Playing out of
// order costs a life and discards every card the mistake made unplayable;
// emptying all hands advances the level; unanimous agreement burns a ninja
// star to discard everyone's lowest card. Complete the final level to win.
//
// Every connected player runs their own engine session against the shared
// state tree; the server relays state, it does not referee.
//
// Routes:
//   - $path                → lobby (room list, create form)
//   - $path/:roomid        → room client (same HTML shell)
//   - $path/:roomid/ws     → game WebSocket for that room
//   - $path/:roomid/qr     → PNG QR code for sharing the room URL
//   - $path/:roomid/stats  → JSON aggregate history for the room
//   - /lobby/ws            → lobby WebSocket (room list + creation)

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type clientMessage struct {
	Type       string `json:"type"`                 // "create", "join", "start", "play", "propose_star", "vote_yes", "vote_no", "leave"
	Name       string `json:"name,omitempty"`       // join / create (player name)
	RoomName   string `json:"roomName,omitempty"`   // create
	MaxPlayers int    `json:"maxPlayers,omitempty"` // create
	Card       int    `json:"card,omitempty"`       // play
}

// simpleMessage covers generic notifications ("error", "info", "room_closed").
type simpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type roomSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
}

type roomListMessage struct {
	Type  string        `json:"type"` // "room_list"
	Rooms []roomSummary `json:"rooms"`
}

type roomCreatedMessage struct {
	Type   string `json:"type"` // "room_created"
	RoomID string `json:"roomId"`
}

type roomStateView struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Status     string   `json:"status"`
	Host       string   `json:"host"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []string `json:"players"`
}

type gameStateView struct {
	Level        int            `json:"level"`
	Lives        int            `json:"lives"`
	Stars        int            `json:"stars"`
	MaxLevels    int            `json:"maxLevels"`
	CentralPile  []int          `json:"centralPile"`
	MyHand       []int          `json:"myHand"`
	HandCounts   map[string]int `json:"handCounts"`
	DiscardCount int            `json:"discardCount"`
	StarProposal string         `json:"starProposal,omitempty"`
	StarVotes    []string       `json:"starVotes,omitempty"`
	GameOver     bool           `json:"gameOver"`
	Victory      bool           `json:"victory"`
}

type roomStateMessage struct {
	Type   string         `json:"type"` // "room_state"
	Room   roomStateView  `json:"room"`
	Game   *gameStateView `json:"game,omitempty"`
	IsHost bool           `json:"isHost"`
}

type levelUpMessage struct {
	Type            string `json:"type"` // "level_up"
	CompletedLevel  int    `json:"completedLevel"`
	NewLevel        int    `json:"newLevel"`
	RewardGained    string `json:"rewardGained,omitempty"`
	NextRewardLevel int    `json:"nextRewardLevel,omitempty"`
	NextReward      string `json:"nextReward,omitempty"`
}

func roomView(id string, room *roomRecord) roomStateView {
	return roomStateView{
		ID:         id,
		Name:       room.Name,
		Status:     room.Status,
		Host:       room.Host,
		MaxPlayers: room.MaxPlayers,
		Players:    room.Roster(),
	}
}

// gameView builds the per-player projection: your own hand in full,
// everyone else's as a count.
func gameView(room *roomRecord, player string) *gameStateView {
	g := room.Game
	if g == nil {
		return nil
	}

	counts := make(map[string]int, len(room.Players))
	for _, name := range room.Roster() {
		counts[name] = len(g.Hand(name))
	}

	votes := make([]string, 0, len(g.StarVotes))
	for name, yes := range g.StarVotes {
		if yes {
			votes = append(votes, name)
		}
	}
	sort.Strings(votes)

	hand := append([]int{}, g.Hand(player)...)
	sort.Ints(hand)

	return &gameStateView{
		Level:        g.Level,
		Lives:        g.Lives,
		Stars:        g.Stars,
		MaxLevels:    g.MaxLevels,
		CentralPile:  append([]int{}, g.CentralPile...),
		MyHand:       hand,
		HandCounts:   counts,
		DiscardCount: len(g.DiscardedCards),
		StarProposal: g.StarProposal,
		StarVotes:    votes,
		GameOver:     g.GameOver,
		Victory:      g.Victory,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient owns the outbound half of a connection. The send channel is
// never closed: producers keep a live reference to it across goroutines,
// so teardown is signalled through done instead, and the write pump owns
// conn.Close.
type wsClient struct {
	conn *websocket.Conn
	send chan any
	done chan struct{}
}

func newWSClient(conn *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan any, buffer),
		done: make(chan struct{}),
	}
}

// trySend queues a message for the write pump. It never blocks and never
// panics: a full buffer or a closed client drops the message.
func (c *wsClient) trySend(msg any) {
	select {
	case <-c.done:
	default:
		select {
		case c.send <- msg:
		default:
		}
	}
}

func (c *wsClient) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *wsClient) writePump() {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			// Flush whatever was queued before the close signal.
			for {
				select {
				case msg := <-c.send:
					if c.conn.WriteJSON(msg) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// ---- lobby ----

// serveLobbyWS streams the open-room list and handles room creation.
func serveLobbyWS(cfg *Config, store sharedStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "MIND: lobby upgrade error: %v", err)
			return
		}

		client := newWSClient(conn, 8)
		go client.writePump()

		cancel := store.Subscribe(roomsPath, func(snap any) {
			client.trySend(roomListMessage{Type: "room_list", Rooms: openRooms(snap)})
		})
		defer func() {
			cancel()
			client.close()
		}()

		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type != "create" {
				continue
			}

			roomID, err := createRoom(store, msg.RoomName, msg.Name, msg.MaxPlayers)
			if err != nil {
				client.trySend(simpleMessage{Type: "error", Message: err.Error()})
				continue
			}
			logf(cfg, "MIND: %q created room %s (%q, %d players)",
				msg.Name, roomID, msg.RoomName, msg.MaxPlayers)
			client.trySend(roomCreatedMessage{Type: "room_created", RoomID: roomID})
		}
	}
}

// openRooms filters the rooms tree down to joinable lobby entries.
func openRooms(snap any) []roomSummary {
	rooms := make([]roomSummary, 0)
	for id, v := range asMap(snap) {
		room, ok := decodeRoom(v)
		if !ok || room.Status != statusWaiting {
			continue
		}
		if len(room.Players) >= room.MaxPlayers {
			continue
		}
		rooms = append(rooms, roomSummary{
			ID:         id,
			Name:       room.Name,
			Players:    len(room.Players),
			MaxPlayers: room.MaxPlayers,
		})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// ---- game connections ----

// serveMindWS attaches one engine session per connection. The first
// message must be a join carrying the player name; everything after that
// is fed into the session's action inbox.
func serveMindWS(cfg *Config, store sharedStore, db *historyDB) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "MIND: upgrade error: %v", err)
			return
		}

		client := newWSClient(conn, 16)
		go client.writePump()

		var join clientMessage
		if err := conn.ReadJSON(&join); err != nil || join.Type != "join" {
			client.close()
			return
		}

		if err := joinRoom(store, roomID, join.Name); err != nil {
			client.trySend(simpleMessage{Type: "error", Message: err.Error()})
			client.close()
			return
		}

		player := strings.TrimSpace(join.Name)
		token := uuid.NewString()
		store.RegisterCleanup(token, playerPath(roomID, player))
		logf(cfg, "MIND: %q joined room %s", player, roomID)

		sess := newSession(cfg, store, db, roomID, player, token, client.send)
		sess.start()

		defer func() {
			sess.stop()
			store.Disconnect(token)
			client.close()
			logf(cfg, "MIND: %q disconnected from room %s", player, roomID)
		}()

		for {
			var msg clientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case sess.actions <- clientAction{msg: msg}:
			case <-sess.quit:
				return
			}
		}
	}
}

// qrHandler generates a PNG QR code for the current room URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")
	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// statsHandler serves aggregate room history from the database.
func statsHandler(cfg *Config, db *historyDB) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" || db == nil {
			http.Error(w, "no stats available", http.StatusNotFound)
			return
		}

		stats, err := db.roomStats(roomID)
		if err != nil {
			logf(cfg, "MIND: stats query failed for %s: %v", roomID, err)
			http.Error(w, "stats unavailable", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		_ = json.NewEncoder(w).Encode(stats)
	}
}

//go:embed mind/index.html
var mindIndexHTML []byte

func mindIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(mindIndexHTML)
	}
}

// roomReaper deletes rooms whose last seat has been vacant longer than the
// idle timeout, catching rooms orphaned by hard disconnects.
func roomReaper(cfg *Config, store sharedStore, db *historyDB, idleTimeout time.Duration) {
	empty := make(map[string]time.Time)
	ticker := time.NewTicker(idleTimeout / 2)

	for range ticker.C {
		snap, _ := store.Read(roomsPath)
		seen := make(map[string]bool)

		for id, v := range asMap(snap) {
			room, ok := decodeRoom(v)
			if !ok || len(room.Players) > 0 {
				continue
			}
			seen[id] = true
			if _, tracked := empty[id]; !tracked {
				empty[id] = time.Now()
			}
		}

		for id, since := range empty {
			if !seen[id] {
				delete(empty, id)
				continue
			}
			if time.Since(since) >= idleTimeout {
				store.Write(roomPath(id), nil)
				if db != nil {
					_ = db.deleteRoom(id)
				}
				delete(empty, id)
				logf(cfg, "MIND: reaped empty room %s", id)
			}
		}
	}
}

// registerMindGame wires the game into the router and starts the
// background pieces: snapshot persistence and the empty-room reaper.
func registerMindGame(cfg *Config, path string, mux *httprouter.Router, store sharedStore, db *historyDB) {
	if db != nil {
		restored, err := db.loadRooms(store)
		if err != nil {
			logf(cfg, "MIND: failed to restore rooms: %v", err)
		} else if restored > 0 {
			logf(cfg, "MIND: restored %d rooms from database", restored)
		}
		db.persistOnChange(store)
	}

	if cfg.sessionTimeout > 0 {
		go roomReaper(cfg, store, db, cfg.sessionTimeout)
	}

	mux.GET(cfg.prefix+path, mindIndexHandler(cfg))
	mux.GET(cfg.prefix+"/lobby/ws", serveLobbyWS(cfg, store))
	mux.GET(cfg.prefix+path+"/:roomid", mindIndexHandler(cfg))
	mux.GET(cfg.prefix+path+"/:roomid/ws", serveMindWS(cfg, store, db))
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)
	mux.GET(cfg.prefix+path+"/:roomid/stats", statsHandler(cfg, db))
}
