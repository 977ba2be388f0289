package main

import (
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
)

// historyDB persists two things: per-room snapshots of the shared state
// tree, so rooms (including in-flight games) survive a server restart,
// and a history row per finished round feeding the stats endpoint.
type historyDB struct {
	db *sql.DB
}

func openHistoryDB(path string) (*historyDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	stmt := `CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		state_json TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS game_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT,
		room_name TEXT,
		level_reached INTEGER,
		player_count INTEGER,
		victory INTEGER,
		played_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(stmt); err != nil {
		db.Close()
		return nil, err
	}

	return &historyDB{db: db}, nil
}

func (h *historyDB) close() error {
	return h.db.Close()
}

// loadRooms restores persisted room trees into the store and returns how
// many were restored.
func (h *historyDB) loadRooms(store sharedStore) (int, error) {
	rows, err := h.db.Query("SELECT room_id, state_json FROM room_snapshots")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	restored := 0
	for rows.Next() {
		var id, stateJSON string
		if err := rows.Scan(&id, &stateJSON); err != nil {
			continue
		}

		var tree map[string]any
		if err := json.Unmarshal([]byte(stateJSON), &tree); err != nil {
			continue
		}
		if _, ok := decodeRoom(tree); !ok {
			continue
		}

		store.Write(roomPath(id), tree)
		restored++
	}
	return restored, rows.Err()
}

// persistOnChange mirrors every room subtree into sqlite as it changes.
// Rooms deleted from the tree are removed from the snapshot table.
func (h *historyDB) persistOnChange(store sharedStore) {
	store.Subscribe(roomsPath, func(snap any) {
		current := asMap(snap)

		rows, err := h.db.Query("SELECT room_id FROM room_snapshots")
		if err != nil {
			return
		}
		known := make(map[string]bool)
		for rows.Next() {
			var id string
			if rows.Scan(&id) == nil {
				known[id] = true
			}
		}
		rows.Close()

		for id, tree := range current {
			data, err := json.Marshal(tree)
			if err != nil {
				continue
			}
			_, _ = h.db.Exec(
				"INSERT OR REPLACE INTO room_snapshots (room_id, state_json, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)",
				id, string(data))
		}
		for id := range known {
			if _, ok := current[id]; !ok {
				_, _ = h.db.Exec("DELETE FROM room_snapshots WHERE room_id = ?", id)
			}
		}
	})
}

func (h *historyDB) deleteRoom(roomID string) error {
	_, err := h.db.Exec("DELETE FROM room_snapshots WHERE room_id = ?", roomID)
	return err
}

func (h *historyDB) recordGame(roomID, roomName string, level, playerCount int, victory bool) error {
	_, err := h.db.Exec(
		"INSERT INTO game_history (room_id, room_name, level_reached, player_count, victory) VALUES (?, ?, ?, ?, ?)",
		roomID, roomName, level, playerCount, victory)
	return err
}

type roomStats struct {
	RoomID     string `json:"roomId"`
	Games      int    `json:"games"`
	Victories  int    `json:"victories"`
	BestLevel  int    `json:"bestLevel"`
	LastPlayed string `json:"lastPlayed,omitempty"`
}

func (h *historyDB) roomStats(roomID string) (roomStats, error) {
	stats := roomStats{RoomID: roomID}

	var last sql.NullString
	err := h.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(victory), 0), COALESCE(MAX(level_reached), 0), MAX(played_at)
		 FROM game_history WHERE room_id = ?`, roomID).
		Scan(&stats.Games, &stats.Victories, &stats.BestLevel, &last)
	if err != nil {
		return stats, err
	}
	if last.Valid {
		stats.LastPlayed = last.String
	}
	return stats, nil
}
