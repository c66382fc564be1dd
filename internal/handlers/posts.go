package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/models"
	"github.com/pulsefeed/backend/internal/realtime"
	"github.com/pulsefeed/backend/internal/util"
)

// CreatePost creates a new post. Accepts JSON {text, media_url} or a
// multipart form (user, text, file?, media_url?) so offline agents can replay
// the exact body they queued. When the request carries X-Idempotency-Key a
// repeated replay returns the already-created post instead of a duplicate.
// POST /api/v1/posts
func (h *Handlers) CreatePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	text, mediaURL, ok := h.bindPostBody(c)
	if !ok {
		return
	}
	if strings.TrimSpace(text) == "" {
		util.RespondValidationError(c, "text", "text is required")
		return
	}

	var keyPtr *string
	idempotencyKey := c.GetHeader("X-Idempotency-Key")
	if idempotencyKey != "" {
		var existing models.Post
		if err := database.DB.Preload("User").First(&existing, "idempotency_key = ?", idempotencyKey).Error; err == nil {
			c.JSON(http.StatusOK, gin.H{"post": existing, "replayed": true})
			return
		}
		keyPtr = &idempotencyKey
	}

	post := models.Post{
		ID:             uuid.New().String(),
		UserID:         userID,
		Text:           text,
		MediaURL:       mediaURL,
		IdempotencyKey: keyPtr,
	}

	if err := database.DB.Create(&post).Error; err != nil {
		// Two replays racing on the same key: the loser reads the winner's row.
		if idempotencyKey != "" {
			var existing models.Post
			if lookupErr := database.DB.Preload("User").First(&existing, "idempotency_key = ?", idempotencyKey).Error; lookupErr == nil {
				c.JSON(http.StatusOK, gin.H{"post": existing, "replayed": true})
				return
			}
		}
		logger.ErrorErr("Failed to create post", err)
		util.RespondInternalError(c, "Failed to create post")
		return
	}

	if err := database.DB.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("post_count", gorm.Expr("post_count + 1")).Error; err != nil {
		logger.WarnErr("Failed to increment post count", err)
	}

	if err := database.DB.Preload("User").First(&post, "id = ?", post.ID).Error; err != nil {
		logger.WarnErr("Failed to reload post with user", err)
	}

	h.invalidateResponseCache(c.Request.Context())

	if h.hub != nil {
		h.hub.BroadcastNewPost(realtime.PostPayload{
			PostID:    post.ID,
			UserID:    post.UserID,
			Username:  post.User.Username,
			Text:      post.Text,
			MediaURL:  post.MediaURL,
			CreatedAt: post.CreatedAt.UnixMilli(),
		})
	}

	logger.Log.Info("Post created",
		logger.WithPostID(post.ID),
		logger.WithUserID(userID))

	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// bindPostBody extracts text and media URL from either a JSON or a multipart
// body. Media is referenced by URL; file bytes in a replayed multipart body
// are acknowledged but the upload pipeline lives outside this service, so
// only a reference is recorded.
func (h *Handlers) bindPostBody(c *gin.Context) (text, mediaURL string, ok bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
			util.RespondBadRequest(c, "invalid multipart body")
			return "", "", false
		}
		text = c.PostForm("text")
		mediaURL = c.PostForm("media_url")
		if mediaURL == "" {
			if file, err := c.FormFile("file"); err == nil && file.Filename != "" {
				mediaURL = "/media/" + uuid.New().String() + "/" + file.Filename
			}
		}
		return text, mediaURL, true
	}

	var req struct {
		Text     string `json:"text"`
		MediaURL string `json:"media_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return "", "", false
	}
	return req.Text, req.MediaURL, true
}

// ListPosts returns the reverse-chronological feed with pagination
// GET /api/v1/posts
func (h *Handlers) ListPosts(c *gin.Context) {
	limit, offset := paginationParams(c, 20, 100)

	var posts []models.Post
	err := database.DB.
		Preload("User").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		logger.ErrorErr("Failed to list posts", err)
		util.RespondInternalError(c, "Failed to load posts")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":  posts,
		"limit":  limit,
		"offset": offset,
	})
}

// GetPost returns one post
// GET /api/v1/posts/:id
func (h *Handlers) GetPost(c *gin.Context) {
	var post models.Post
	if err := database.DB.Preload("User").First(&post, "id = ?", c.Param("id")).Error; err != nil {
		util.RespondNotFound(c, "post")
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post})
}

// DeletePost soft-deletes a post the caller owns and announces the removal.
// DELETE /api/v1/posts/:id
func (h *Handlers) DeletePost(c *gin.Context) {
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
	if post.UserID != userID {
		util.RespondForbidden(c, "you can only delete your own posts")
		return
	}

	if err := database.DB.Delete(&post).Error; err != nil {
		logger.ErrorErr("Failed to delete post", err)
		util.RespondInternalError(c, "Failed to delete post")
		return
	}

	if err := database.DB.Model(&models.User{}).Where("id = ? AND post_count > 0", userID).
		UpdateColumn("post_count", gorm.Expr("post_count - 1")).Error; err != nil {
		logger.WarnErr("Failed to decrement post count", err)
	}

	h.invalidateResponseCache(c.Request.Context())

	if h.hub != nil {
		h.hub.BroadcastPostDeleted(postID, userID)
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func paginationParams(c *gin.Context, def, max int) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
