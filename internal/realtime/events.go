package realtime

import (
	"encoding/json"
	"time"
)

// Server to client.
const (
	EventUserOnline      = "userOnline"
	EventUserOffline     = "userOffline"
	EventOnlineUsersList = "onlineUsersList"
	EventReceiveMessage  = "receiveMessage"
	EventNewNotification = "newNotification"
	EventError           = "error"
)

// Client to server.
const (
	EventJoin          = "join"
	EventJoinChatRoom  = "joinChatRoom"
	EventLeaveChatRoom = "leaveChatRoom"
	EventSendMessage   = "sendMessage"
)

// Error codes carried by EventError.
const (
	CodeBadRequest   = "bad_request"
	CodeUnknownEvent = "unknown_event"
	CodeForbidden    = "forbidden_room"
	CodeSendFailed   = "send_failed"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type UserRef struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profilePic"`
}

// MessagePayload is a persisted message as pushed to clients, with both
// participants populated.
type MessagePayload struct {
	ID              string    `json:"_id"`
	Sender          UserRef   `json:"sender"`
	Receiver        UserRef   `json:"receiver"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"createdAt"`
	ClientMessageID string    `json:"clientMessageId,omitempty"`
}

type Notification struct {
	ID             string    `json:"_id"`
	From           UserRef   `json:"from"`
	MessagePreview string    `json:"messagePreview"`
	Timestamp      time.Time `json:"timestamp"`
	IsRead         bool      `json:"isRead"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinRequest struct {
	UserID string `json:"userId"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// SendRequest is the legacy socket send. Sender is accepted for wire
// compatibility and ignored in favour of the authenticated identity.
type SendRequest struct {
	Sender          string     `json:"sender,omitempty"`
	Receiver        string     `json:"receiver"`
	Content         string     `json:"content"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	ClientMessageID string     `json:"clientMessageId,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
