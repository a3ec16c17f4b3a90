package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"room-chat/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// RoomRepository abstracts room persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, roomID string, createdBy string) (models.Room, error)
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom inserts a room unless the code is already taken.
func (r *RoomRepo) CreateRoom(ctx context.Context, roomID string, createdBy string) (models.Room, error) {
	var room models.Room
	err := r.db.QueryRowxContext(ctx, `INSERT INTO rooms (id, created_by) VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING
        RETURNING id, created_by, created_at`, roomID, createdBy).StructScan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomExists
	}
	return room, err
}

// GetRoom fetches a room by code.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, created_by, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// DeleteRoom removes the room; its messages go with it.
func (r *RoomRepo) DeleteRoom(ctx context.Context, roomID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rooms WHERE id=$1`, roomID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}
