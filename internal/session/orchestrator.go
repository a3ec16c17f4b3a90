package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"room-chat/internal/docstore"
	"room-chat/internal/feed"
	"room-chat/internal/models"
)

type State string

const (
	StateChecking State = "checking"
	StateFound    State = "found"
	StateNotFound State = "not_found"
	StateActive   State = "active"
	StateDeleted  State = "deleted"
	StateEnded    State = "ended"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotCreator   = errors.New("only the room creator can delete this room")
	ErrEmptyMessage = errors.New("message is empty")
	ErrInactive     = errors.New("session is not active")
)

// Rooms is the document store as seen by a room session.
type Rooms interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	AddMessage(ctx context.Context, msg docstore.NewMessage) (models.Message, error)
	WatchRoom(roomID string, onErr func(error)) *feed.Subscription[models.RoomSnapshot]
	WatchMessages(roomID string, onErr func(error)) *feed.Subscription[[]models.Message]
}

// Presence is the ephemeral key-value store with disconnect hooks.
type Presence interface {
	Connect(ctx context.Context, connID string) error
	Set(ctx context.Context, path string, value any) error
	Remove(ctx context.Context, path string) error
	OnDisconnectRemove(ctx context.Context, connID, path string) error
	OnDisconnectSet(ctx context.Context, connID, path string, value any) error
	Release(ctx context.Context, connID string) error
}

// Identity is the signed-in user entering a room.
type Identity struct {
	UserID      string
	DisplayName string
}

// Orchestrator opens room sessions.
type Orchestrator struct {
	rooms       Rooms
	presence    Presence
	callTimeout time.Duration
	logger      zerolog.Logger
}

func NewOrchestrator(rooms Rooms, presence Presence, callTimeout time.Duration, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		rooms:       rooms,
		presence:    presence,
		callTimeout: callTimeout,
		logger:      logger.With().Str("component", "session").Logger(),
	}
}

func (o *Orchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

// Enter reads the room once. The returned session is Found, or NotFound together
// with an error wrapping ErrRoomNotFound. Read failures count as not found.
func (o *Orchestrator) Enter(ctx context.Context, id Identity, roomID, connID string) (*Session, error) {
	s := newSession(o, id, roomID, connID)

	ctx, cancel := o.withTimeout(ctx)
	defer cancel()
	room, err := o.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if !errors.Is(err, docstore.ErrRoomNotFound) {
			s.logger.Warn().Err(err).Msg("room check failed")
		}
		s.mu.Lock()
		s.setStateLocked(StateNotFound)
		s.mu.Unlock()
		close(s.done)
		return s, fmt.Errorf("%w: %v", ErrRoomNotFound, err)
	}

	s.mu.Lock()
	s.isCreator = room.CreatedBy == id.UserID
	s.setStateLocked(StateFound)
	s.mu.Unlock()
	return s, nil
}
