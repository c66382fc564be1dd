package models

import (
	"time"

	"gorm.io/gorm"
)

// Comment is a comment on a post. Nesting is fixed at two levels: a comment
// either has no parent (top level) or points at a top-level comment. Replies
// to replies are reparented onto the top-level comment at create time.
type Comment struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	PostID string `gorm:"not null;index" json:"post_id"`
	UserID string `gorm:"not null;index" json:"user_id"`
	User   User   `gorm:"foreignKey:UserID" json:"user,omitempty"`

	ParentID *string `gorm:"index" json:"parent_id,omitempty"`

	Content string `gorm:"type:text;not null" json:"content"`

	IsDeleted bool `gorm:"default:false" json:"is_deleted"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
