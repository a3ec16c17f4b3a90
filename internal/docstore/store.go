package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"room-chat/internal/feed"
	"room-chat/internal/models"
	"room-chat/internal/repositories"
)

var (
	ErrRoomNotFound = repositories.ErrRoomNotFound
	ErrRoomExists   = repositories.ErrRoomExists
	ErrUserNotFound = repositories.ErrUserNotFound
)

// NewMessage is the caller-supplied part of a message; id, sequence and timestamp are assigned on write.
type NewMessage struct {
	RoomID     string
	Text       string
	AuthorID   string
	AuthorName string
	Kind       models.MessageKind
}

// Store is the document store: persistent rooms and messages plus change streams over them.
type Store struct {
	rooms       repositories.RoomRepository
	messages    repositories.MessageRepository
	users       repositories.UserRepository
	bus         *feed.Bus
	callTimeout time.Duration
	logger      zerolog.Logger
}

// New wires the repositories to the change bus.
func New(rooms repositories.RoomRepository, messages repositories.MessageRepository, users repositories.UserRepository, bus *feed.Bus, callTimeout time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		rooms:       rooms,
		messages:    messages,
		users:       users,
		bus:         bus,
		callTimeout: callTimeout,
		logger:      logger.With().Str("component", "docstore").Logger(),
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// GetRoom reads a room document.
func (s *Store) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.rooms.GetRoom(ctx, roomID)
}

// CreateRoom writes a room document only if the id is unused; ErrRoomExists otherwise.
func (s *Store) CreateRoom(ctx context.Context, roomID, createdBy string) (models.Room, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	room, err := s.rooms.CreateRoom(ctx, roomID, createdBy)
	if err != nil {
		return models.Room{}, err
	}
	s.bus.Notify(feed.RoomTopic(roomID))
	return room, nil
}

// DeleteRoom removes a room and its messages.
func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.rooms.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	s.notifyRoomGone(roomID)
	return nil
}

func (s *Store) notifyRoomGone(roomID string) {
	s.bus.Notify(feed.RoomTopic(roomID))
	s.bus.Notify(feed.MessagesTopic(roomID))
}

// AddMessage appends a message to a room. The database assigns the timestamp.
func (s *Store) AddMessage(ctx context.Context, in NewMessage) (models.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	msg, err := s.messages.CreateMessage(ctx, models.Message{
		ID:         ulid.Make().String(),
		RoomID:     in.RoomID,
		Text:       in.Text,
		AuthorID:   in.AuthorID,
		AuthorName: in.AuthorName,
		Kind:       in.Kind,
	})
	if err != nil {
		return models.Message{}, err
	}
	s.bus.Notify(feed.MessagesTopic(in.RoomID))
	return msg, nil
}

// ListMessages returns a room's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	msgs, err := s.messages.ListRoomMessages(ctx, roomID)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// WatchRoom streams existence snapshots of a room document.
func (s *Store) WatchRoom(roomID string, onErr func(error)) *feed.Subscription[models.RoomSnapshot] {
	return feed.Watch(s.bus, feed.RoomTopic(roomID), func(ctx context.Context) (models.RoomSnapshot, error) {
		room, err := s.GetRoom(ctx, roomID)
		if errors.Is(err, ErrRoomNotFound) {
			return models.RoomSnapshot{RoomID: roomID}, nil
		}
		if err != nil {
			return models.RoomSnapshot{}, fmt.Errorf("load room %s: %w", roomID, err)
		}
		return models.RoomSnapshot{RoomID: roomID, Exists: true, Room: &room}, nil
	}, onErr)
}

// WatchMessages streams the full oldest-first message list of a room.
func (s *Store) WatchMessages(roomID string, onErr func(error)) *feed.Subscription[[]models.Message] {
	return feed.Watch(s.bus, feed.MessagesTopic(roomID), func(ctx context.Context) ([]models.Message, error) {
		msgs, err := s.ListMessages(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("load messages %s: %w", roomID, err)
		}
		return msgs, nil
	}, onErr)
}

// DeleteAccount removes the user and every room they created in one transaction,
// then tells watchers of those rooms that they are gone.
func (s *Store) DeleteAccount(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	roomIDs, err := s.users.DeleteUserWithRooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, id := range roomIDs {
		s.notifyRoomGone(id)
	}
	s.logger.Info().Str("user_id", userID).Int("rooms", len(roomIDs)).Msg("account deleted")
	return roomIDs, nil
}

// GetUser reads a user profile.
func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.users.GetUser(ctx, userID)
}
