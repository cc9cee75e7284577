package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string     `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	Name         string     `gorm:"size:64;not null" bson:"name" json:"name"`
	Email        string     `gorm:"uniqueIndex;size:255;not null" bson:"email" json:"email"`
	PasswordHash string     `gorm:"not null" bson:"password" json:"-"`
	ProfilePic   string     `gorm:"size:512" bson:"profilePic" json:"profilePic"`
	IsOnline     bool       `gorm:"index;not null;default:false" bson:"isOnline" json:"isOnline"`
	LastSeen     *time.Time `bson:"lastSeen,omitempty" json:"lastSeen,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt" json:"updatedAt"`
}

// Message IDs are assigned once, when the store persists the row.
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" bson:"_id" json:"_id"`
	SenderID   string    `gorm:"size:36;not null;index:idx_msg_pair,priority:1" bson:"sender" json:"sender"`
	ReceiverID string    `gorm:"size:36;not null;index:idx_msg_pair,priority:2" bson:"receiver" json:"receiver"`
	Content    string    `gorm:"type:text;not null" bson:"content" json:"content"`
	CreatedAt  time.Time `gorm:"index:idx_msg_pair,priority:3" bson:"createdAt" json:"createdAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
