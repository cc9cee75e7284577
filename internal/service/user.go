package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"directchat/internal/auth"
	"directchat/internal/config"
	"directchat/internal/models"
	"directchat/internal/store"
)

const minPasswordLen = 6

type UserService struct {
	users    store.UserStore
	presence store.PresenceStore
	cfg      config.Config
}

func NewUserService(users store.UserStore, presence store.PresenceStore, cfg config.Config) *UserService {
	return &UserService{users: users, presence: presence, cfg: cfg}
}

type RegisterResult struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Register 创建账号，邮箱统一转为小写存储。
func (s *UserService) Register(ctx context.Context, name, email, password string) (*RegisterResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" || password == "" {
		return nil, invalid("Please fill all fields")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, invalid("invalid email address")
	}
	if len(password) < minPasswordLen {
		return nil, invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Name: name, Email: email, PasswordHash: hash}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &RegisterResult{ID: user.ID, Name: user.Name, Email: user.Email}, nil
}

type LoginResult struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	AccessToken string `json:"accessToken"`
}

func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, invalid("Please enter email and password")
	}
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &LoginResult{ID: user.ID, Name: user.Name, Email: user.Email, AccessToken: at}, nil
}

func (s *UserService) Me(ctx context.Context, id string) (*models.User, error) {
	u, err := s.users.FindUserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UpdateProfile 只更新非空字段。
func (s *UserService) UpdateProfile(ctx context.Context, id, name, profilePic string) (*models.User, error) {
	u, err := s.users.UpdateProfile(ctx, id, strings.TrimSpace(name), strings.TrimSpace(profilePic))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *UserService) ListOthers(ctx context.Context, id string) ([]models.User, error) {
	return s.users.ListUsersExcept(ctx, id)
}

// Online returns the users the presence store reports online. Ids that no
// longer resolve are skipped.
func (s *UserService) Online(ctx context.Context) ([]models.User, error) {
	ids, err := s.presence.FindOnlineUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("find online users: %w", err)
	}
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		u, err := s.users.FindUserByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, nil
}
