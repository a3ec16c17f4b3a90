package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"room-chat/internal/observability"
)

const wsKind = "room"

// Client is one websocket connection attached to a room session.
type Client struct {
	conn   *websocket.Conn
	info   ConnInfo
	send   chan serverFrame
	kicked chan string
	once   sync.Once
}

func newClient(conn *websocket.Conn, info ConnInfo) *Client {
	return &Client{
		conn:   conn,
		info:   info,
		send:   make(chan serverFrame, 16),
		kicked: make(chan string, 1),
	}
}

// Kick asks the connection to end with reason. Only the first call counts.
func (c *Client) Kick(reason string) {
	c.once.Do(func() { c.kicked <- reason })
}

// Hub indexes active room connections by room and by user.
type Hub struct {
	rooms map[string]map[*Client]struct{}
	users map[string]map[*Client]struct{}
	mu    sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		users: make(map[string]map[*Client]struct{}),
	}
}

// AddClient registers a websocket connection.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[c.info.RoomID]; !ok {
		h.rooms[c.info.RoomID] = make(map[*Client]struct{})
	}
	h.rooms[c.info.RoomID][c] = struct{}{}
	if _, ok := h.users[c.info.UserID]; !ok {
		h.users[c.info.UserID] = make(map[*Client]struct{})
	}
	h.users[c.info.UserID][c] = struct{}{}
}

// RemoveClient removes a websocket connection.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.rooms[c.info.RoomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, c.info.RoomID)
		}
	}
	if clients, ok := h.users[c.info.UserID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.users, c.info.UserID)
		}
	}
}

// RoomConnections counts the connections attached to a room on this instance.
func (h *Hub) RoomConnections(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// CloseUser ends every connection of a user, e.g. after sign-out or account deletion.
func (h *Hub) CloseUser(userID, reason string) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Kick(reason)
	}
	return len(clients)
}

func publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	duration := int64(0)
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"resource_id": info.RoomID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": duration,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.rooms", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RoomID:    info.RoomID,
		Payload:   payload,
	}, headers)
	observability.IncWSEvent(wsKind, event)
}
