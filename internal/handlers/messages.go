package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/models"
	"github.com/pulsefeed/backend/internal/util"
)

// StartConversation finds or creates the conversation between the caller and
// another user. The pair is stored in a canonical order so there is exactly
// one row per pair; the conversation ID doubles as the realtime room ID.
// POST /api/v1/conversations
func (h *Handlers) StartConversation(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}
	if req.UserID == userID {
		util.RespondValidationError(c, "user_id", "cannot start a conversation with yourself")
		return
	}

	var peer models.User
	if err := database.DB.First(&peer, "id = ?", req.UserID).Error; err != nil {
		util.RespondNotFound(c, "user")
		return
	}

	a, b := userID, req.UserID
	if b < a {
		a, b = b, a
	}

	var conv models.Conversation
	err := database.DB.First(&conv, "user_a_id = ? AND user_b_id = ?", a, b).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"conversation": conv})
		return
	}

	conv = models.Conversation{
		ID:      uuid.New().String(),
		UserAID: a,
		UserBID: b,
	}
	if err := database.DB.Create(&conv).Error; err != nil {
		// Concurrent creation of the same pair: read the winner's row.
		if lookupErr := database.DB.First(&conv, "user_a_id = ? AND user_b_id = ?", a, b).Error; lookupErr == nil {
			c.JSON(http.StatusOK, gin.H{"conversation": conv})
			return
		}
		logger.ErrorErr("Failed to create conversation", err)
		util.RespondInternalError(c, "Failed to start conversation")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// ListConversations returns the caller's conversations, most recent first.
// GET /api/v1/conversations
func (h *Handlers) ListConversations(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var conversations []models.Conversation
	err := database.DB.
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("last_message_at DESC NULLS LAST").
		Find(&conversations).Error
	if err != nil {
		// SQLite has no NULLS LAST; retry with plain ordering.
		err = database.DB.
			Where("user_a_id = ? OR user_b_id = ?", userID, userID).
			Order("last_message_at DESC").
			Find(&conversations).Error
	}
	if err != nil {
		logger.ErrorErr("Failed to list conversations", err)
		util.RespondInternalError(c, "Failed to load conversations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// GetMessages returns a conversation's message history, oldest first.
// GET /api/v1/conversations/:id/messages
func (h *Handlers) GetMessages(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	convID := c.Param("id")

	var conv models.Conversation
	err := database.DB.
		Where("id = ? AND (user_a_id = ? OR user_b_id = ?)", convID, userID, userID).
		First(&conv).Error
	if err != nil {
		util.RespondNotFound(c, "conversation")
		return
	}

	limit, offset := paginationParams(c, 50, 200)

	var messages []models.ChatMessage
	err = database.DB.
		Where("conversation_id = ?", convID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		logger.ErrorErr("Failed to load messages", err)
		util.RespondInternalError(c, "Failed to load messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"limit":    limit,
		"offset":   offset,
	})
}

// MarkMessagesRead stamps every unread message sent by the peer.
// POST /api/v1/conversations/:id/read
func (h *Handlers) MarkMessagesRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	convID := c.Param("id")

	var conv models.Conversation
	err := database.DB.
		Where("id = ? AND (user_a_id = ? OR user_b_id = ?)", convID, userID, userID).
		First(&conv).Error
	if err != nil {
		util.RespondNotFound(c, "conversation")
		return
	}

	res := database.DB.Model(&models.ChatMessage{}).
		Where("conversation_id = ? AND sender_id != ? AND read_at IS NULL", convID, userID).
		UpdateColumn("read_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if res.Error != nil {
		logger.ErrorErr("Failed to mark messages read", res.Error)
		util.RespondInternalError(c, "Failed to mark messages read")
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": res.RowsAffected})
}
