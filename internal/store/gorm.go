package store

import (
	"context"
	"errors"
	"fmt"

	"directchat/internal/models"

	"gorm.io/gorm"
)

// Gorm is the relational Store used with the postgres and sqlite drivers.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (s *Gorm) CreateUser(ctx context.Context, u *models.User) error {
	err := s.db.WithContext(ctx).Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (s *Gorm) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Gorm) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Gorm) ListUsersExcept(ctx context.Context, id string) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Where("id <> ?", id).Order("name asc").Find(&users).Error
	return users, err
}

func (s *Gorm) UpdateProfile(ctx context.Context, id, name, profilePic string) (*models.User, error) {
	updates := map[string]interface{}{}
	if name != "" {
		updates["name"] = name
	}
	if profilePic != "" {
		updates["profile_pic"] = profilePic
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
	}
	return s.FindUserByID(ctx, id)
}

func (s *Gorm) CreateMessage(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	msg := models.Message{SenderID: senderID, ReceiverID: receiverID, Content: content, CreatedAt: now()}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return &msg, nil
}

func (s *Gorm) FindMessagesBetween(ctx context.Context, a, b string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Order("created_at asc").
		Find(&msgs).Error
	return msgs, err
}

func (s *Gorm) SetUserOnline(ctx context.Context, userID string, online bool) error {
	updates := map[string]interface{}{"is_online": online}
	if !online {
		updates["last_seen"] = now()
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Gorm) FindOnlineUsers(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("is_online = ?", true).Order("id asc").Pluck("id", &ids).Error
	return ids, err
}

func (s *Gorm) ResetPresence(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("is_online = ?", true).Update("is_online", false).Error
}

func (s *Gorm) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
