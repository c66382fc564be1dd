package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/models"
	"github.com/pulsefeed/backend/internal/realtime"
	"github.com/pulsefeed/backend/internal/util"
)

// CreateComment creates a comment on a post. Nesting is capped at two
// levels: a reply to a reply is reparented onto the top-level comment.
// POST /api/v1/posts/:id/comments
func (h *Handlers) CreateComment(c *gin.Context) {
	postID := c.Param("id")
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Content  string  `json:"content" binding:"required,min=1,max=2000"`
		ParentID *string `json:"parent_id,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	var post models.Post
	if err := database.DB.First(&post, "id = ?", postID).Error; err != nil {
		util.RespondNotFound(c, "post")
		return
	}

	if req.ParentID != nil && *req.ParentID != "" {
		var parent models.Comment
		if err := database.DB.First(&parent, "id = ? AND post_id = ?", *req.ParentID, postID).Error; err != nil {
			util.RespondValidationError(c, "parent_id", "Parent comment not found")
			return
		}
		if parent.ParentID != nil {
			req.ParentID = parent.ParentID
		}
	}

	comment := models.Comment{
		ID:       uuid.New().String(),
		PostID:   postID,
		UserID:   userID,
		Content:  req.Content,
		ParentID: req.ParentID,
	}
	if err := database.DB.Create(&comment).Error; err != nil {
		logger.ErrorErr("Failed to create comment", err)
		util.RespondInternalError(c, "Failed to create comment")
		return
	}

	if err := database.DB.Model(&post).UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error; err != nil {
		logger.WarnErr("Failed to increment comment count", err)
	}

	if err := database.DB.Preload("User").First(&comment, "id = ?", comment.ID).Error; err != nil {
		logger.WarnErr("Failed to reload comment with user", err)
	}

	h.invalidateResponseCache(c.Request.Context())

	if h.hub != nil {
		h.hub.BroadcastNewComment(realtime.CommentPayload{
			CommentID: comment.ID,
			PostID:    postID,
			ParentID:  comment.ParentID,
			UserID:    userID,
			Username:  comment.User.Username,
			Body:      comment.Content,
			CreatedAt: comment.CreatedAt.UnixMilli(),
		})
	}

	if post.UserID != userID {
		notif := models.Notification{
			ID:       uuid.New().String(),
			UserID:   post.UserID,
			Type:     "new_comment",
			Title:    comment.User.Username,
			Body:     comment.Content,
			TargetID: postID,
		}
		if err := database.DB.Create(&notif).Error; err != nil {
			logger.WarnErr("Failed to persist comment notification", err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// GetComments retrieves a post's comments. Without parent_id it returns
// top-level comments; with parent_id it returns that comment's replies.
// GET /api/v1/posts/:id/comments
func (h *Handlers) GetComments(c *gin.Context) {
	postID := c.Param("id")
	limit, offset := paginationParams(c, 20, 100)
	parentID := c.Query("parent_id")

	var post models.Post
	if err := database.DB.First(&post, "id = ?", postID).Error; err != nil {
		util.RespondNotFound(c, "post")
		return
	}

	query := database.DB.
		Preload("User").
		Where("post_id = ? AND is_deleted = ?", postID, false).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset)

	if parentID != "" {
		query = query.Where("parent_id = ?", parentID)
	} else {
		query = query.Where("parent_id IS NULL")
	}

	var comments []models.Comment
	if err := query.Find(&comments).Error; err != nil {
		logger.ErrorErr("Failed to list comments", err)
		util.RespondInternalError(c, "Failed to load comments")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"comments": comments,
		"limit":    limit,
		"offset":   offset,
	})
}

// DeleteComment soft-deletes a comment the caller owns. The row stays so
// replies keep their anchor; only the content is hidden.
// DELETE /api/v1/comments/:id
func (h *Handlers) DeleteComment(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	commentID := c.Param("id")

	var comment models.Comment
	if err := database.DB.First(&comment, "id = ?", commentID).Error; err != nil {
		util.RespondNotFound(c, "comment")
		return
	}
	if comment.UserID != userID {
		util.RespondForbidden(c, "you can only delete your own comments")
		return
	}

	if err := database.DB.Model(&comment).UpdateColumn("is_deleted", true).Error; err != nil {
		logger.ErrorErr("Failed to delete comment", err)
		util.RespondInternalError(c, "Failed to delete comment")
		return
	}

	if err := database.DB.Model(&models.Post{}).
		Where("id = ? AND comment_count > 0", comment.PostID).
		UpdateColumn("comment_count", gorm.Expr("comment_count - 1")).Error; err != nil {
		logger.WarnErr("Failed to decrement comment count", err)
	}

	h.invalidateResponseCache(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
