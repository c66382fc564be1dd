package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pulsefeed/backend/internal/auth"
	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/models"
)

var testJWTSecret = []byte("test-secret-for-handlers")

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	_ = logger.Initialize("error", "")
	m.Run()
}

// setupTestDB swaps the global connection for an in-memory SQLite database.
func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Post{},
		&models.Like{},
		&models.Comment{},
		&models.Conversation{},
		&models.ChatMessage{},
		&models.Notification{},
	))

	prev := database.DB
	database.DB = db
	t.Cleanup(func() { database.DB = prev })
}

// newTestRouter wires the full API surface behind the real auth middleware.
func newTestRouter(t *testing.T) (*gin.Engine, *Handlers, *auth.Service) {
	t.Helper()
	setupTestDB(t)

	authService := auth.NewService(testJWTSecret)
	h := NewHandlers(authService)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	protected := api.Group("")
	protected.Use(authService.Middleware())
	protected.GET("/auth/me", h.Me)
	protected.POST("/posts", h.CreatePost)
	protected.GET("/posts", h.ListPosts)
	protected.GET("/posts/:id", h.GetPost)
	protected.DELETE("/posts/:id", h.DeletePost)
	protected.POST("/posts/:id/like", h.LikePost)
	protected.DELETE("/posts/:id/like", h.UnlikePost)
	protected.POST("/posts/:id/comments", h.CreateComment)
	protected.GET("/posts/:id/comments", h.GetComments)
	protected.DELETE("/comments/:id", h.DeleteComment)
	protected.POST("/conversations", h.StartConversation)
	protected.GET("/conversations", h.ListConversations)
	protected.GET("/conversations/:id/messages", h.GetMessages)
	protected.POST("/conversations/:id/read", h.MarkMessagesRead)
	protected.GET("/notifications", h.GetNotifications)
	protected.POST("/notifications/:id/read", h.MarkNotificationRead)
	protected.POST("/notifications/read-all", h.MarkAllNotificationsRead)

	return r, h, authService
}

// registerUser creates an account through the API and returns its token and id.
func registerUser(t *testing.T, r *gin.Engine, username string) (token, userID string) {
	t.Helper()

	body := fmt.Sprintf(`{"email":"%s@example.com","username":"%s","password":"password123","display_name":"%s"}`,
		username, username, username)
	w := doJSON(r, http.MethodPost, "/api/v1/auth/register", body, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token, resp.User.ID
}

func doJSON(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createPost(t *testing.T, r *gin.Engine, token, text string) string {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/api/v1/posts", fmt.Sprintf(`{"text":"%s"}`, text), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Post models.Post `json:"post"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Post.ID
}

func multipartPostRequest(t *testing.T, token, idempotencyKey string, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/posts", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}
	return req
}
