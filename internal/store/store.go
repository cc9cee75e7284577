// Package store holds the durable collaborators of the chat core: users,
// messages and the persisted online flag. Implementations are interchangeable
// and selected by STORE_DRIVER.
package store

import (
	"context"
	"errors"
	"time"

	"directchat/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsersExcept(ctx context.Context, id string) ([]models.User, error)
	UpdateProfile(ctx context.Context, id, name, profilePic string) (*models.User, error)
}

type MessageStore interface {
	// CreateMessage assigns the message id and creation time.
	CreateMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error)
	// FindMessagesBetween returns both directions ordered by creation time.
	FindMessagesBetween(ctx context.Context, a, b string) ([]models.Message, error)
}

type PresenceStore interface {
	// SetUserOnline persists the flag; going offline also records last seen.
	SetUserOnline(ctx context.Context, userID string, online bool) error
	FindOnlineUsers(ctx context.Context) ([]string, error)
	// ResetPresence marks everyone offline. Called once at startup, when no
	// connection can be live yet.
	ResetPresence(ctx context.Context) error
}

type Store interface {
	UserStore
	MessageStore
	PresenceStore
	Close(ctx context.Context) error
}

// now is the single clock for every implementation. Millisecond precision
// keeps round-tripped timestamps identical across postgres, sqlite and mongo.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
