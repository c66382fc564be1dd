package models

import (
	"time"

	"gorm.io/gorm"
)

// Conversation is a direct-message channel between two users. The realtime
// hub uses the conversation ID as the room ID for joinChat/leaveChat.
type Conversation struct {
	ID string `gorm:"primaryKey;type:uuid" json:"id"`

	UserAID string `gorm:"not null;index:idx_conversations_pair,unique" json:"user_a_id"`
	UserBID string `gorm:"not null;index:idx_conversations_pair,unique" json:"user_b_id"`

	LastMessageAt *time.Time `json:"last_message_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChatMessage is a single message inside a conversation.
type ChatMessage struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID string `gorm:"not null;index" json:"conversation_id"`
	SenderID       string `gorm:"not null;index" json:"sender_id"`

	Body string `gorm:"type:text;not null" json:"body"`

	ReadAt *time.Time `json:"read_at"`

	CreatedAt time.Time `json:"created_at"`
}
