package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a Pulsefeed account.
type User struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Email       string `gorm:"uniqueIndex;not null" json:"email"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `gorm:"not null" json:"display_name"`
	Bio         string `gorm:"type:text" json:"bio"`

	PasswordHash string `gorm:"type:text" json:"-"`

	AvatarURL string `json:"avatar_url"`

	// Presence. IsOnline and LastSeenAt are flipped by the realtime hub on
	// authenticate/disconnect; LastSeenAt is also the "last seen" timestamp
	// shown in conversations.
	IsOnline   bool       `gorm:"default:false" json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at"`

	PostCount int `gorm:"default:0" json:"post_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
