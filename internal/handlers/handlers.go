// Package handlers contains the HTTP API surface: auth, posts, likes,
// comments, conversations, and notifications. Mutations fan out through the
// realtime hub and invalidate the Redis response cache.
package handlers

import (
	"context"

	"github.com/pulsefeed/backend/internal/auth"
	"github.com/pulsefeed/backend/internal/cache"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/realtime"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	authService *auth.Service
	hub         *realtime.Hub
	redis       *cache.RedisClient
}

// NewHandlers creates a new handlers instance. The hub and the Redis client
// are optional; without them mutations still work, they just skip fan-out and
// cache invalidation.
func NewHandlers(authService *auth.Service) *Handlers {
	return &Handlers{authService: authService}
}

// SetHub sets the realtime hub for broadcast fan-out
func (h *Handlers) SetHub(hub *realtime.Hub) {
	h.hub = hub
}

// SetRedisClient sets the Redis client for response-cache invalidation
func (h *Handlers) SetRedisClient(redis *cache.RedisClient) {
	h.redis = redis
}

// invalidateResponseCache drops cached GET responses after a mutation.
func (h *Handlers) invalidateResponseCache(ctx context.Context) {
	if h.redis == nil {
		return
	}
	if err := h.redis.DelPattern(ctx, "respcache:*"); err != nil {
		logger.WarnErr("Failed to invalidate response cache", err)
	}
}
