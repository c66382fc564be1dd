package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/models"
	"github.com/pulsefeed/backend/internal/util"
)

// GetNotifications returns the caller's notifications, newest first
// GET /api/v1/notifications
func (h *Handlers) GetNotifications(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	limit, offset := paginationParams(c, 20, 100)

	var notifications []models.Notification
	query := database.DB.
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset)

	if c.Query("unread") == "true" {
		query = query.Where("is_read = ?", false)
	}

	if err := query.Find(&notifications).Error; err != nil {
		logger.ErrorErr("Failed to list notifications", err)
		util.RespondInternalError(c, "Failed to load notifications")
		return
	}

	var unread int64
	if err := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&unread).Error; err != nil {
		logger.WarnErr("Failed to count unread notifications", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

// MarkNotificationRead marks one notification as read
// POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	res := database.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		UpdateColumn("is_read", true)
	if res.Error != nil {
		logger.ErrorErr("Failed to mark notification read", res.Error)
		util.RespondInternalError(c, "Failed to update notification")
		return
	}
	if res.RowsAffected == 0 {
		util.RespondNotFound(c, "notification")
		return
	}

	c.JSON(http.StatusOK, gin.H{"read": true})
}

// MarkAllNotificationsRead marks every unread notification as read
// POST /api/v1/notifications/read-all
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	res := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		UpdateColumn("is_read", true)
	if res.Error != nil {
		logger.ErrorErr("Failed to mark notifications read", res.Error)
		util.RespondInternalError(c, "Failed to update notifications")
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": res.RowsAffected})
}
