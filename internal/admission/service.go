package admission

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/rs/zerolog"

	"room-chat/internal/models"
	"room-chat/internal/navigation"
	"room-chat/internal/observability"
	"room-chat/internal/repositories"
)

const (
	CodeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	CodeLength      = 6
	MaxCodeAttempts = 5
)

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrCodeSpaceExhausted = errors.New("could not allocate a free room code")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidCode reports whether code has the shape of a room id.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// NormalizeCode trims surrounding whitespace. Codes are case-sensitive and
// used verbatim as the room id.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

type roomStore interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	CreateRoom(ctx context.Context, roomID, createdBy string) (models.Room, error)
}

// Result tells the caller which room it ended up with and where to go next.
type Result struct {
	RoomID   string `json:"room_id,omitempty"`
	Redirect string `json:"redirect"`
}

// Service creates rooms and admits users to existing ones.
type Service struct {
	store    roomStore
	generate func() string
	logger   zerolog.Logger
}

func NewService(store roomStore, logger zerolog.Logger) (*Service, error) {
	generate, err := nanoid.CustomASCII(CodeAlphabet, CodeLength)
	if err != nil {
		return nil, fmt.Errorf("room code generator: %w", err)
	}
	return &Service{
		store:    store,
		generate: generate,
		logger:   logger.With().Str("component", "admission").Logger(),
	}, nil
}

// CreateRoom allocates a fresh code owned by userID. Codes are written
// insert-if-absent, so a collision never overwrites another user's room.
func (s *Service) CreateRoom(ctx context.Context, userID string) (Result, error) {
	for attempt := 1; attempt <= MaxCodeAttempts; attempt++ {
		code := s.generate()
		room, err := s.store.CreateRoom(ctx, code, userID)
		if errors.Is(err, repositories.ErrRoomExists) {
			observability.IncRoomCodeCollision()
			s.logger.Debug().Str("room_id", code).Int("attempt", attempt).Msg("room code collision")
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("create room: %w", err)
		}
		observability.IncRoomsCreated()
		s.logger.Info().Str("room_id", room.ID).Str("user_id", userID).Msg("room created")
		return Result{RoomID: room.ID, Redirect: navigation.Room(room.ID)}, nil
	}
	return Result{}, ErrCodeSpaceExhausted
}

// JoinRoom checks that code names an existing room. Any failure, including a
// backend read error, is reported as ErrRoomNotFound with the join screen as
// the redirect.
func (s *Service) JoinRoom(ctx context.Context, code string) (Result, error) {
	code = NormalizeCode(code)
	notFound := Result{Redirect: navigation.Join}
	if !ValidCode(code) {
		return notFound, ErrRoomNotFound
	}

	if _, err := s.store.GetRoom(ctx, code); err != nil {
		if !errors.Is(err, repositories.ErrRoomNotFound) {
			s.logger.Warn().Err(err).Str("room_id", code).Msg("room lookup failed")
		}
		return notFound, fmt.Errorf("%w: %v", ErrRoomNotFound, err)
	}
	return Result{RoomID: code, Redirect: navigation.Room(code)}, nil
}
