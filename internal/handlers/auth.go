package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pulsefeed/backend/internal/auth"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/util"
)

// Register creates a new account
// POST /api/v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Register(req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			util.RespondConflict(c, "email")
		case errors.Is(err, auth.ErrUsernameExists):
			util.RespondConflict(c, "username")
		default:
			logger.ErrorErr("Registration failed", err)
			util.RespondInternalError(c, "Failed to create account")
		}
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Login authenticates with email/password
// POST /api/v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	resp, err := h.authService.Login(req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrInvalidCredentials):
			util.RespondUnauthorized(c, "invalid email or password")
		default:
			logger.ErrorErr("Login failed", err)
			util.RespondInternalError(c, "Failed to log in")
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Me returns the authenticated user's account
// GET /api/v1/auth/me
func (h *Handlers) Me(c *gin.Context) {
	user, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
