package realtime

import (
	"context"
	"errors"
	"net/http"

	"directchat/internal/metrics"

	"github.com/gorilla/websocket"
)

var ErrForbiddenRoom = errors.New("realtime: not a participant of room")

type Options struct {
	PreviewLen     int
	SendBuffer     int
	AllowedOrigins []string
}

// Hub 持有单个进程内所有连接的共享状态：注册表、房间、在线状态与消息分发。
type Hub struct {
	registry   *Registry
	rooms      *Rooms
	presence   *Presence
	dispatcher *Dispatcher
	sendBuffer int
	upgrader   websocket.Upgrader
}

func NewHub(store PresenceWriter, opts Options) *Hub {
	reg := NewRegistry()
	rooms := NewRooms()
	h := &Hub{
		registry:   reg,
		rooms:      rooms,
		presence:   NewPresence(reg, store),
		dispatcher: NewDispatcher(rooms, opts.PreviewLen),
		sendBuffer: opts.SendBuffer,
	}
	h.upgrader = websocket.Upgrader{
		Subprotocols: []string{"access_token"},
		CheckOrigin:  originChecker(opts.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func (h *Hub) Registry() *Registry { return h.registry }
func (h *Hub) Rooms() *Rooms       { return h.rooms }

// Connect puts c in its personal room, then registers it for presence.
func (h *Hub) Connect(ctx context.Context, c *Conn) {
	h.rooms.Join(c, PersonalRoom(c.userID))
	if h.presence.OnConnect(ctx, c) {
		metrics.WsConnections.Inc()
	}
}

// Disconnect drops every membership of c before presence sees it leave.
func (h *Hub) Disconnect(ctx context.Context, c *Conn) {
	h.rooms.LeaveAll(c)
	if h.presence.OnDisconnect(ctx, c) {
		metrics.WsConnections.Dec()
	}
	c.Close()
}

// JoinRoom accepts the caller's personal room or a conversation room the
// caller takes part in.
func (h *Hub) JoinRoom(c *Conn, roomID string) error {
	if !canJoin(c.userID, roomID) {
		return ErrForbiddenRoom
	}
	h.rooms.Join(c, roomID)
	return nil
}

func (h *Hub) LeaveRoom(c *Conn, roomID string) {
	if roomID == PersonalRoom(c.userID) {
		return
	}
	h.rooms.Leave(c, roomID)
}

func canJoin(userID, roomID string) bool {
	if roomID == PersonalRoom(userID) {
		return true
	}
	a, b, ok := ParticipantsOf(roomID)
	return ok && (a == userID || b == userID)
}

func (h *Hub) Dispatch(msg MessagePayload, clientMessageID string) Result {
	return h.dispatcher.Dispatch(msg, clientMessageID)
}

func (h *Hub) OnlineUsers() []string { return h.registry.OnlineUsers() }

// CloseAll 关闭所有在线连接，之后各自的读循环走正常的断开流程。
func (h *Hub) CloseAll() {
	for _, c := range h.registry.All() {
		c.Close()
	}
}
