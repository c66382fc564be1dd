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

// LikePost records a like. Liking a post twice is a no-op.
// POST /api/v1/posts/:id/like
func (h *Handlers) LikePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	postID := c.Param("id")

	var post models.Post
	if err := database.DB.First(&post, "id = ?", postID).Error; err != nil {
		util.RespondNotFound(c, "post")
		return
	}

	var existing models.Like
	if err := database.DB.First(&existing, "post_id = ? AND user_id = ?", postID, userID).Error; err == nil {
		c.JSON(http.StatusOK, gin.H{"liked": true, "like_count": post.LikeCount})
		return
	}

	like := models.Like{
		ID:     uuid.New().String(),
		PostID: postID,
		UserID: userID,
	}
	if err := database.DB.Create(&like).Error; err != nil {
		logger.ErrorErr("Failed to create like", err)
		util.RespondInternalError(c, "Failed to like post")
		return
	}

	if err := database.DB.Model(&post).UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error; err != nil {
		logger.WarnErr("Failed to increment like count", err)
	}

	var liker models.User
	if err := database.DB.First(&liker, "id = ?", userID).Error; err != nil {
		logger.WarnErr("Failed to load liker", err)
	}

	h.invalidateResponseCache(c.Request.Context())

	if h.hub != nil {
		h.hub.BroadcastPostLiked(realtime.LikePayload{
			PostID:    postID,
			UserID:    userID,
			Username:  liker.Username,
			LikeCount: post.LikeCount + 1,
		})
	}

	// The post owner gets a persisted notification unless they liked their
	// own post.
	if post.UserID != userID {
		notif := models.Notification{
			ID:       uuid.New().String(),
			UserID:   post.UserID,
			Type:     "post_liked",
			Title:    liker.Username,
			Body:     "liked your post",
			TargetID: postID,
		}
		if err := database.DB.Create(&notif).Error; err != nil {
			logger.WarnErr("Failed to persist like notification", err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"liked": true, "like_count": post.LikeCount + 1})
}

// UnlikePost removes a like. Unliking a post that was never liked is a no-op.
// DELETE /api/v1/posts/:id/like
func (h *Handlers) UnlikePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	postID := c.Param("id")

	var post models.Post
	if err := database.DB.First(&post, "id = ?", postID).Error; err != nil {
		util.RespondNotFound(c, "post")
		return
	}

	res := database.DB.Where("post_id = ? AND user_id = ?", postID, userID).Delete(&models.Like{})
	if res.Error != nil {
		logger.ErrorErr("Failed to delete like", res.Error)
		util.RespondInternalError(c, "Failed to unlike post")
		return
	}

	likeCount := post.LikeCount
	if res.RowsAffected > 0 {
		if err := database.DB.Model(&post).Where("like_count > 0").
			UpdateColumn("like_count", gorm.Expr("like_count - 1")).Error; err != nil {
			logger.WarnErr("Failed to decrement like count", err)
		} else if likeCount > 0 {
			likeCount--
		}

		h.invalidateResponseCache(c.Request.Context())

		if h.hub != nil {
			h.hub.BroadcastPostLiked(realtime.LikePayload{
				PostID:    postID,
				UserID:    userID,
				LikeCount: likeCount,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"liked": false, "like_count": likeCount})
}
