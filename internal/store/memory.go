package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"directchat/internal/models"

	"github.com/google/uuid"
)

// Memory is a process-local Store for STORE_DRIVER=memory and for tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	messages []models.Message
}

func NewMemory() *Memory {
	return &Memory{users: make(map[string]*models.User)}
}

func (s *Memory) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	ts := now()
	u.CreatedAt, u.UpdatedAt = ts, ts
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Memory) FindUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Memory) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) ListUsersExcept(_ context.Context, id string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		if u.ID != id {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Memory) UpdateProfile(_ context.Context, id, name, profilePic string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if name != "" {
		u.Name = name
	}
	if profilePic != "" {
		u.ProfilePic = profilePic
	}
	u.UpdatedAt = now()
	cp := *u
	return &cp, nil
}

func (s *Memory) CreateMessage(_ context.Context, senderID, receiverID, content string) (*models.Message, error) {
	msg := models.Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now(),
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return &msg, nil
}

func (s *Memory) FindMessagesBetween(_ context.Context, a, b string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) SetUserOnline(_ context.Context, userID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	if !online {
		ts := now()
		u.LastSeen = &ts
	}
	return nil
}

func (s *Memory) FindOnlineUsers(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, u := range s.users {
		if u.IsOnline {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) ResetPresence(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.IsOnline = false
	}
	return nil
}

func (s *Memory) Close(context.Context) error { return nil }
