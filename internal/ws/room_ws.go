package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"room-chat/internal/admission"
	"room-chat/internal/auth"
	"room-chat/internal/models"
	"room-chat/internal/navigation"
	"room-chat/internal/observability"
	"room-chat/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	teardownWait   = 10 * time.Second
)

type authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
	Profile(ctx context.Context, userID string) (models.User, error)
	UpdateDisplayName(ctx context.Context, userID, name string) (models.User, error)
}

type roomSessions interface {
	Enter(ctx context.Context, id session.Identity, roomID, connID string) (*session.Session, error)
}

type connPresence interface {
	Heartbeat(ctx context.Context, connID string) error
	Disconnect(ctx context.Context, connID string) (int, error)
}

// RoomWebSocketHandler serves the live room screen over a websocket.
type RoomWebSocketHandler struct {
	hub      *Hub
	auth     authenticator
	sessions roomSessions
	presence connPresence
	logger   zerolog.Logger
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, auth authenticator, sessions roomSessions, presence connPresence, logger zerolog.Logger) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{
		hub:      hub,
		auth:     auth,
		sessions: sessions,
		presence: presence,
		logger:   logger.With().Str("component", "ws").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks the room, upgrades and runs the session.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")
	if !admission.ValidCode(roomID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "redirect": navigation.Join})
		return
	}

	ctx, span := otel.Tracer("room-chat/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("room.id", roomID)))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	claims, err := h.auth.Authenticate(ctx, observability.BearerToken(c.Request))
	if err != nil {
		span.SetStatus(codes.Error, "unauthenticated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.Message(err), "redirect": navigation.Login})
		return
	}

	span.SetAttributes(attribute.String("user.id", claims.UserID()))
	identity := session.Identity{UserID: claims.UserID()}
	if user, err := h.auth.Profile(ctx, claims.UserID()); err == nil {
		identity.DisplayName = user.Name()
	}

	connID := newConnID()
	sess, err := h.sessions.Enter(ctx, identity, roomID, connID)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "redirect": navigation.Join})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		sess.Close(ctx)
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      connID,
		UserID:      identity.UserID,
		RoomID:      roomID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}

	connCtx := context.WithoutCancel(ctx)
	if err := sess.Activate(connCtx); err != nil {
		h.logger.Warn().Err(err).Str("room_id", roomID).Msg("session activation failed")
		_ = conn.WriteJSON(serverFrame{Type: frameEnded, Redirect: navigation.Join})
		conn.Close()
		return
	}

	client := newClient(conn, info)
	h.hub.AddClient(client)
	observability.IncWSActive(wsKind)
	publishWSEvent(connCtx, "ws_connect", info, "")

	go h.serve(connCtx, client, sess)
}

func (h *RoomWebSocketHandler) serve(ctx context.Context, client *Client, sess *session.Session) {
	logger := h.logger.With().Str("conn_id", client.info.ConnID).Str("room_id", client.info.RoomID).Logger()
	writerCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(writerCtx, client, sess, logger)
	}()

	closeReason := h.readLoop(ctx, client, sess, logger)

	stopWriter()
	<-writerDone

	teardownCtx, cancel := context.WithTimeout(ctx, teardownWait)
	defer cancel()
	sess.Close(teardownCtx)
	if _, err := h.presence.Disconnect(teardownCtx, client.info.ConnID); err != nil {
		logger.Warn().Err(err).Msg("disconnect hooks not run, reaper will retry")
	}

	h.hub.RemoveClient(client)
	observability.DecWSActive(wsKind)
	publishWSEvent(ctx, "ws_disconnect", client.info, closeReason)
	client.conn.Close()
}

func (h *RoomWebSocketHandler) readLoop(ctx context.Context, client *Client, sess *session.Session, logger zerolog.Logger) string {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("websocket read failed")
				publishWSEvent(ctx, "ws_error", client.info, err.Error())
			}
			return closeReason(err)
		}
		h.dispatch(ctx, client, sess, frame, logger)
	}
}

func closeReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Text
	}
	return "read_error"
}

func (h *RoomWebSocketHandler) dispatch(ctx context.Context, client *Client, sess *session.Session, frame clientFrame, logger zerolog.Logger) {
	reply := func(f serverFrame) {
		select {
		case client.send <- f:
		default:
			logger.Warn().Str("type", f.Type).Msg("send buffer full, dropping frame")
		}
	}

	switch frame.Type {
	case frameSend:
		if _, err := sess.Send(ctx, frame.Text); err != nil {
			reply(errorFrame(sessionMessage(err)))
		}
	case frameLeave:
		if _, err := sess.Leave(ctx); err != nil && !errors.Is(err, session.ErrInactive) {
			logger.Warn().Err(err).Msg("leave completed with errors")
		}
	case frameDeleteRoom:
		if err := sess.DeleteRoom(ctx); err != nil {
			reply(errorFrame(sessionMessage(err)))
		}
	case frameRename:
		user, err := h.auth.UpdateDisplayName(ctx, client.info.UserID, frame.DisplayName)
		if err != nil {
			reply(errorFrame(auth.Message(err)))
			return
		}
		sess.SetDisplayName(user.Name())
	default:
		reply(errorFrame("unknown frame type"))
	}
}

func sessionMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return "Message cannot be empty."
	case errors.Is(err, session.ErrNotCreator):
		return "Only the room creator can delete this room."
	case errors.Is(err, session.ErrInactive):
		return "This room is no longer available."
	default:
		return "An error occurred. Please try again."
	}
}

func (h *RoomWebSocketHandler) writeLoop(ctx context.Context, client *Client, sess *session.Session, logger zerolog.Logger) {
	conn := client.conn
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(f serverFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(f); err != nil {
			logger.Debug().Err(err).Msg("websocket write failed")
			conn.Close()
			return false
		}
		return true
	}
	finish := func(f serverFrame) {
		if write(f) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, f.Type),
				time.Now().Add(writeWait))
		}
		conn.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-sess.Views():
			if !write(snapshotFrame(v)) {
				return
			}
		case f := <-client.send:
			if !write(f) {
				return
			}
		case <-sess.Done():
			final := sess.Snapshot()
			if !write(snapshotFrame(final)) {
				return
			}
			if final.State == session.StateDeleted {
				finish(serverFrame{Type: frameDeleted, Redirect: navigation.Join})
			} else {
				finish(serverFrame{Type: frameEnded, Redirect: navigation.Join})
			}
			return
		case reason := <-client.kicked:
			finish(serverFrame{Type: frameEnded, Redirect: navigation.Login, Error: reason})
			return
		case <-ticker.C:
			if err := h.presence.Heartbeat(ctx, client.info.ConnID); err != nil {
				logger.Warn().Err(err).Msg("presence heartbeat failed")
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}
