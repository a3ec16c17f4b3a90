package models

import "time"

// Room represents a chat room addressed by its short code.
type Room struct {
	ID        string    `db:"id" json:"id"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RoomSnapshot is one observation of a room document; Exists is false once the room is gone.
type RoomSnapshot struct {
	RoomID string `json:"room_id"`
	Exists bool   `json:"exists"`
	Room   *Room  `json:"room,omitempty"`
}
