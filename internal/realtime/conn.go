package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed     = errors.New("realtime: connection closed")
	ErrSendBufferFull = errors.New("realtime: send buffer full")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 16
)

// Conn is one live websocket session. Its owner is fixed at handshake.
type Conn struct {
	id       string
	userID   string
	userName string
	ws       *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewConn(userID, userName string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 256
	}
	return &Conn{
		id:       uuid.NewString(),
		userID:   userID,
		userName: userName,
		send:     make(chan []byte, buffer),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send enqueues a frame without blocking.
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops delivery; the write pump flushes a close frame and exits.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(frame)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands each decoded frame to handle until the socket fails.
func (c *Conn) readPump(handle func(Envelope)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.sendError(CodeBadRequest, "malformed frame")
			continue
		}
		handle(env)
	}
}

func (c *Conn) sendError(code, msg string) {
	if b, err := encode(EventError, ErrorEvent{Code: code, Message: msg}); err == nil {
		_ = c.Send(b)
	}
}
