package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"room-chat/internal/models"
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message; created_at and seq are assigned by the database.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var stored models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (id, room_id, text, author_id, author_name, kind) VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, seq, room_id, text, author_id, author_name, kind, created_at`,
		msg.ID, msg.RoomID, msg.Text, msg.AuthorID, msg.AuthorName, msg.Kind).StructScan(&stored)
	if isPQCode(err, pqForeignKeyViolation) {
		return models.Message{}, ErrRoomNotFound
	}
	return stored, err
}

// ListRoomMessages returns the room's messages newest first.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, seq, room_id, text, author_id, author_name, kind, created_at
        FROM messages
        WHERE room_id=$1
        ORDER BY created_at DESC, seq DESC`, roomID)
	return msgs, err
}
