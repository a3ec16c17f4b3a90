package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"room-chat/internal/admission"
	"room-chat/internal/docstore"
	"room-chat/internal/models"
	"room-chat/internal/navigation"
	"room-chat/internal/observability"
)

// RoomAdmission creates rooms and resolves join codes.
type RoomAdmission interface {
	CreateRoom(ctx context.Context, userID string) (admission.Result, error)
	JoinRoom(ctx context.Context, code string) (admission.Result, error)
}

// RoomStore is the document store as used by the REST room endpoints.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	ListMessages(ctx context.Context, roomID string) ([]models.Message, error)
	AddMessage(ctx context.Context, msg docstore.NewMessage) (models.Message, error)
}

// PresenceReader lists who is online in a room.
type PresenceReader interface {
	Online(ctx context.Context, roomID string) ([]string, error)
}

// RoomHandler serves room creation, admission and the REST view of a room.
type RoomHandler struct {
	admission RoomAdmission
	store     RoomStore
	presence  PresenceReader
	profiles  ProfileReader
	logger    zerolog.Logger
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(admission RoomAdmission, store RoomStore, presence PresenceReader, profiles ProfileReader, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		admission: admission,
		store:     store,
		presence:  presence,
		profiles:  profiles,
		logger:    logger.With().Str("component", "rooms").Logger(),
	}
}

func roomNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "redirect": navigation.Join})
}

// roomParam returns the room code from the path, answering 404 when it is malformed.
func roomParam(c *gin.Context) (string, bool) {
	roomID := c.Param("room_id")
	if !admission.ValidCode(roomID) {
		roomNotFound(c)
		return "", false
	}
	return roomID, true
}

// CreateRoom allocates a new room owned by the caller.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	result, err := h.admission.CreateRoom(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, admission.ErrCodeSpaceExhausted) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error().Err(err).Msg("create room failed")
		c.JSON(status, gin.H{"error": "could not create room"})
		return
	}
	c.JSON(http.StatusCreated, result)
}

// JoinRoom resolves a typed code to a room.
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req struct {
		RoomID string `json:"room_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.admission.JoinRoom(c.Request.Context(), req.RoomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "redirect": result.Redirect})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetRoom returns the room and whether the caller created it.
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	room, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if !errors.Is(err, docstore.ErrRoomNotFound) {
			h.logger.Warn().Err(err).Str("room_id", roomID).Msg("room lookup failed")
		}
		roomNotFound(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "is_creator": room.CreatedBy == c.GetString("userID")})
}

// DeleteRoom removes a room. Only its creator may do so.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	room, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		roomNotFound(c)
		return
	}
	if room.CreatedBy != c.GetString("userID") {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the room creator can delete this room"})
		return
	}

	if err := h.store.DeleteRoom(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, docstore.ErrRoomNotFound) {
			roomNotFound(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete room"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns the room's messages oldest first.
func (h *RoomHandler) ListMessages(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	if _, err := h.store.GetRoom(c.Request.Context(), roomID); err != nil {
		roomNotFound(c)
		return
	}
	msgs, err := h.store.ListMessages(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage appends a chat message authored by the caller.
func (h *RoomHandler) PostMessage(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message cannot be empty"})
		return
	}

	userID := c.GetString("userID")
	name := models.DefaultDisplayName(userID)
	if user, err := h.profiles.Profile(c.Request.Context(), userID); err == nil {
		name = user.Name()
	}

	msg, err := h.store.AddMessage(c.Request.Context(), docstore.NewMessage{
		RoomID:     roomID,
		Text:       req.Text,
		AuthorID:   userID,
		AuthorName: name,
		Kind:       models.KindChat,
	})
	if err != nil {
		if errors.Is(err, docstore.ErrRoomNotFound) {
			roomNotFound(c)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	observability.IncMessage(string(models.KindChat))
	c.JSON(http.StatusCreated, msg)
}

// Presence lists the users currently online in the room.
func (h *RoomHandler) Presence(c *gin.Context) {
	roomID, ok := roomParam(c)
	if !ok {
		return
	}

	online, err := h.presence.Online(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load presence"})
		return
	}
	if online == nil {
		online = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"online": online})
}
