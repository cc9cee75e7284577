package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"directchat/internal/auth"
	"directchat/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const disconnectTimeout = 5 * time.Second

// MessageSender is the single persist-then-dispatch entry point. The legacy
// sendMessage event goes through it like the HTTP route does.
type MessageSender interface {
	Send(ctx context.Context, senderID, receiverID, content, clientMessageID string) (*MessagePayload, error)
}

// Serve authenticates the handshake, upgrades, and runs the connection until
// the socket closes. A rejected handshake never touches the registry.
func Serve(h *Hub, users auth.UserFinder, sender MessageSender, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.Authenticate(c.Request, secret, users)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"statusCode": http.StatusUnauthorized, "success": false, "message": err.Error(), "data": nil})
			return
		}

		ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("user_id", user.ID).Msg("websocket upgrade failed")
			return
		}
		conn := NewConn(user.ID, user.Name, h.sendBuffer)
		conn.ws = ws

		go conn.writePump()
		h.Connect(c.Request.Context(), conn)
		log.Debug().Str("user_id", user.ID).Str("conn_id", conn.id).Msg("connected")

		conn.readPump(func(env Envelope) {
			h.handle(c.Request.Context(), conn, sender, env)
		})

		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		h.Disconnect(ctx, conn)
		log.Debug().Str("user_id", user.ID).Str("conn_id", conn.id).Msg("disconnected")
	}
}

func (h *Hub) handle(ctx context.Context, c *Conn, sender MessageSender, env Envelope) {
	switch env.Event {
	case EventJoin:
		var req JoinRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError(CodeBadRequest, "invalid join payload")
			return
		}
		if req.UserID != c.userID {
			c.sendError(CodeForbidden, ErrForbiddenRoom.Error())
			return
		}
		_ = h.JoinRoom(c, PersonalRoom(req.UserID))

	case EventJoinChatRoom:
		var req RoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			c.sendError(CodeBadRequest, "invalid room payload")
			return
		}
		if err := h.JoinRoom(c, req.RoomID); err != nil {
			c.sendError(CodeForbidden, err.Error())
			return
		}
		log.Debug().Str("conn_id", c.id).Str("room_id", req.RoomID).Msg("joined room")

	case EventLeaveChatRoom:
		var req RoomRequest
		if err := json.Unmarshal(env.Data, &req); err != nil || req.RoomID == "" {
			c.sendError(CodeBadRequest, "invalid room payload")
			return
		}
		h.LeaveRoom(c, req.RoomID)

	case EventSendMessage:
		var req SendRequest
		if err := json.Unmarshal(env.Data, &req); err != nil {
			c.sendError(CodeBadRequest, "invalid message payload")
			return
		}
		if req.Sender != "" && req.Sender != c.userID {
			log.Warn().Str("user_id", c.userID).Str("claimed", req.Sender).Msg("sendMessage sender ignored")
		}
		msg, err := sender.Send(ctx, c.userID, req.Receiver, req.Content, req.ClientMessageID)
		if err != nil {
			log.Error().Err(err).Str("user_id", c.userID).Msg("socket send failed")
			c.sendError(CodeSendFailed, sendErrorMessage(err))
			return
		}
		metrics.MessagesTotal.WithLabelValues("socket").Inc()
		log.Debug().Str("message_id", msg.ID).Msg("socket message sent")

	default:
		c.sendError(CodeUnknownEvent, env.Event)
	}
}

// ValidationError marks failures whose text is safe to show the caller.
type ValidationError interface {
	error
	Validation() bool
}

func sendErrorMessage(err error) string {
	var ve ValidationError
	if errors.As(err, &ve) && ve.Validation() {
		return ve.Error()
	}
	return "message could not be sent"
}
