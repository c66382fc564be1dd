package models

import (
	"time"
)

// Notification is a persisted in-app notification (likes, comments,
// messages). Realtime delivery goes through the hub; this row is what a
// client fetches when it reconnects after being offline.
type Notification struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"not null;index" json:"user_id"`

	Type  string `gorm:"not null" json:"type"` // "post_liked", "new_comment", "new_message"
	Title string `json:"title"`
	Body  string `gorm:"type:text" json:"body"`

	// Loose reference to the triggering entity.
	TargetID string `json:"target_id,omitempty"`

	IsRead bool `gorm:"default:false" json:"is_read"`

	CreatedAt time.Time `json:"created_at"`
}
