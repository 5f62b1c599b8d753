package types

import "time"

// RoomSnapshot is the serialized form of a room, used at the persistence
// boundary and for rehydrating rooms after a restart. Connection bindings are
// deliberately absent: they are volatile and never survive a restart.
type RoomSnapshot struct {
	ID            string         `json:"id"`
	Code          string         `json:"code"`
	BoardSize     int            `json:"board_size"`
	Status        string         `json:"status"`
	CurrentPlayer int            `json:"current_player"`
	Cells         []int          `json:"cells"` // row-major, 0 empty, 1/2 player marks
	Moves         []MoveRecord   `json:"moves"`
	Slots         []SlotSnapshot `json:"slots"`
	Score         Score          `json:"score"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
}

type MoveRecord struct {
	Number int `json:"number"`
	Player int `json:"player"`
	Row    int `json:"row"`
	Col    int `json:"col"`
}

type SlotSnapshot struct {
	Player      int    `json:"player"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
}
