package models

import "time"

// MessageKind discriminates user-authored text from synthetic presence notifications.
type MessageKind string

const (
	KindChat  MessageKind = "chat"
	KindJoin  MessageKind = "join"
	KindLeave MessageKind = "leave"
)

// Message represents a message posted in a room.
type Message struct {
	ID         string      `db:"id" json:"id"`
	Seq        int64       `db:"seq" json:"seq"`
	RoomID     string      `db:"room_id" json:"room_id"`
	Text       string      `db:"text" json:"text"`
	AuthorID   string      `db:"author_id" json:"uid"`
	AuthorName string      `db:"author_name" json:"username"`
	Kind       MessageKind `db:"kind" json:"kind"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}
