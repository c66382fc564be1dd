package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/models"
)

func TestLikeUnlikePost(t *testing.T) {
	r, _, _ := newTestRouter(t)
	aliceToken, _ := registerUser(t, r, "alice")
	bobToken, _ := registerUser(t, r, "bob")
	postID := createPost(t, r, aliceToken, "like me")

	w := doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/like", "", bobToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Liked     bool `json:"liked"`
		LikeCount int  `json:"like_count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Liked)
	assert.Equal(t, 1, resp.LikeCount)

	// Second like is a no-op.
	w = doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/like", "", bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.LikeCount)

	var count int64
	require.NoError(t, database.DB.Model(&models.Like{}).Where("post_id = ?", postID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// Unlike brings the count back down.
	w = doJSON(r, http.MethodDelete, "/api/v1/posts/"+postID+"/like", "", bobToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Liked)
	assert.Equal(t, 0, resp.LikeCount)

	// Unliking again stays a no-op.
	w = doJSON(r, http.MethodDelete, "/api/v1/posts/"+postID+"/like", "", bobToken)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLikeCreatesNotificationForOwner(t *testing.T) {
	r, _, _ := newTestRouter(t)
	aliceToken, aliceID := registerUser(t, r, "alice")
	bobToken, _ := registerUser(t, r, "bob")
	postID := createPost(t, r, aliceToken, "like me")

	w := doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/like", "", bobToken)
	require.Equal(t, http.StatusCreated, w.Code)

	var notifications []models.Notification
	require.NoError(t, database.DB.Where("user_id = ?", aliceID).Find(&notifications).Error)
	require.Len(t, notifications, 1)
	assert.Equal(t, "post_liked", notifications[0].Type)
	assert.Equal(t, postID, notifications[0].TargetID)
}

func TestSelfLikeSkipsNotification(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token, userID := registerUser(t, r, "alice")
	postID := createPost(t, r, token, "my own post")

	w := doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/like", "", token)
	require.Equal(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, database.DB.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateCommentAndReplies(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token, _ := registerUser(t, r, "alice")
	postID := createPost(t, r, token, "discuss")

	// Top-level comment.
	w := doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/comments",
		`{"content":"top level"}`, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var topResp struct {
		Comment models.Comment `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &topResp))
	require.Nil(t, topResp.Comment.ParentID)

	// Reply to the top-level comment.
	w = doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/comments",
		fmt.Sprintf(`{"content":"a reply","parent_id":"%s"}`, topResp.Comment.ID), token)
	require.Equal(t, http.StatusCreated, w.Code)

	var replyResp struct {
		Comment models.Comment `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replyResp))
	require.NotNil(t, replyResp.Comment.ParentID)
	assert.Equal(t, topResp.Comment.ID, *replyResp.Comment.ParentID)

	// A reply to the reply is reparented onto the top-level comment.
	w = doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/comments",
		fmt.Sprintf(`{"content":"reply to reply","parent_id":"%s"}`, replyResp.Comment.ID), token)
	require.Equal(t, http.StatusCreated, w.Code)

	var nestedResp struct {
		Comment models.Comment `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nestedResp))
	require.NotNil(t, nestedResp.Comment.ParentID)
	assert.Equal(t, topResp.Comment.ID, *nestedResp.Comment.ParentID,
		"nesting is capped at two levels")

	// Listing without parent_id returns only the top-level comment.
	w = doJSON(r, http.MethodGet, "/api/v1/posts/"+postID+"/comments", "", token)
	require.Equal(t, http.StatusOK, w.Code)

	var listResp struct {
		Comments []models.Comment `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Comments, 1)

	// Listing with parent_id returns both replies.
	w = doJSON(r, http.MethodGet, "/api/v1/posts/"+postID+"/comments?parent_id="+topResp.Comment.ID, "", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Len(t, listResp.Comments, 2)
}

func TestCommentRejectsUnknownParent(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token, _ := registerUser(t, r, "alice")
	postID := createPost(t, r, token, "discuss")

	w := doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/comments",
		`{"content":"orphan","parent_id":"nope"}`, token)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDeleteCommentSoftDeletes(t *testing.T) {
	r, _, _ := newTestRouter(t)
	token, _ := registerUser(t, r, "alice")
	postID := createPost(t, r, token, "discuss")

	w := doJSON(r, http.MethodPost, "/api/v1/posts/"+postID+"/comments", `{"content":"bye"}`, token)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Comment models.Comment `json:"comment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doJSON(r, http.MethodDelete, "/api/v1/comments/"+resp.Comment.ID, "", token)
	require.Equal(t, http.StatusOK, w.Code)

	// Hidden from listings but the row survives.
	w = doJSON(r, http.MethodGet, "/api/v1/posts/"+postID+"/comments", "", token)
	var listResp struct {
		Comments []models.Comment `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	assert.Empty(t, listResp.Comments)

	var stored models.Comment
	require.NoError(t, database.DB.First(&stored, "id = ?", resp.Comment.ID).Error)
	assert.True(t, stored.IsDeleted)
}
