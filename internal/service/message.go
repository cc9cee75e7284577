package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"directchat/internal/models"
	"directchat/internal/realtime"
	"directchat/internal/store"
)

const maxContentRunes = 1000

// Dispatcher is the fanout side of a send.
type Dispatcher interface {
	Dispatch(msg realtime.MessagePayload, clientMessageID string) realtime.Result
}

// MessageService 是消息唯一的写入路径：校验、持久化，然后分发。
type MessageService struct {
	users    store.UserStore
	messages store.MessageStore
	hub      Dispatcher
}

func NewMessageService(users store.UserStore, messages store.MessageStore, hub Dispatcher) *MessageService {
	return &MessageService{users: users, messages: messages, hub: hub}
}

// Send persists the message and pushes it to the live connections of both
// participants. Nothing is dispatched unless the store write succeeds.
func (s *MessageService) Send(ctx context.Context, senderID, receiverID, content, clientMessageID string) (*realtime.MessagePayload, error) {
	receiverID = strings.TrimSpace(receiverID)
	content = strings.TrimSpace(content)
	switch {
	case receiverID == "" || content == "":
		return nil, invalid("Receiver ID and content are required")
	case utf8.RuneCountInString(content) > maxContentRunes:
		return nil, invalid(fmt.Sprintf("content exceeds %d characters", maxContentRunes))
	case receiverID == senderID:
		return nil, invalid("cannot send a message to yourself")
	}

	sender, err := s.lookup(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.lookup(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.CreateMessage(ctx, sender.ID, receiver.ID, content)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	payload := toPayload(*msg, sender, receiver)
	s.hub.Dispatch(payload, clientMessageID)
	payload.ClientMessageID = clientMessageID
	return &payload, nil
}

// History 返回 me 与 other 之间的会话，按时间升序。
func (s *MessageService) History(ctx context.Context, me, other string) ([]realtime.MessagePayload, error) {
	self, err := s.lookup(ctx, me)
	if err != nil {
		return nil, err
	}
	peer, err := s.lookup(ctx, other)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.FindMessagesBetween(ctx, self.ID, peer.ID)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	out := make([]realtime.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == self.ID {
			out = append(out, toPayload(m, self, peer))
		} else {
			out = append(out, toPayload(m, peer, self))
		}
	}
	return out, nil
}

func (s *MessageService) lookup(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.FindUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func toPayload(m models.Message, sender, receiver *models.User) realtime.MessagePayload {
	return realtime.MessagePayload{
		ID:        m.ID,
		Sender:    userRef(sender),
		Receiver:  userRef(receiver),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func userRef(u *models.User) realtime.UserRef {
	return realtime.UserRef{ID: u.ID, Name: u.Name, ProfilePic: u.ProfilePic}
}
