package models

import (
	"time"

	"gorm.io/gorm"
)

// Post represents a shared post with an optional media attachment.
type Post struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`

	Text     string `gorm:"type:text;not null" json:"text"`
	MediaURL string `json:"media_url,omitempty"`

	// Replay de-duplication. Offline clients attach X-Idempotency-Key when
	// replaying queued mutations; the unique index makes a duplicated replay
	// a no-op instead of a second post.
	IdempotencyKey *string `gorm:"uniqueIndex" json:"-"`

	// Engagement counters, denormalized for feed queries.
	LikeCount    int `gorm:"default:0" json:"like_count"`
	CommentCount int `gorm:"default:0" json:"comment_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Like is a user's like on a post. One row per (user, post).
type Like struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	PostID string `gorm:"not null;index:idx_likes_post_user,unique" json:"post_id"`
	UserID string `gorm:"not null;index:idx_likes_post_user,unique" json:"user_id"`

	CreatedAt time.Time `json:"created_at"`
}
