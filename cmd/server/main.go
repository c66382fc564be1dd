package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pulsefeed/backend/internal/auth"
	"github.com/pulsefeed/backend/internal/cache"
	"github.com/pulsefeed/backend/internal/config"
	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/handlers"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/middleware"
	"github.com/pulsefeed/backend/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	logger.Log.Info("=== Pulsefeed server starting ===",
		zap.String("environment", cfg.Environment))

	if err := database.Initialize(cfg.DatabaseURL, cfg.Environment == "development"); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis is optional: without it hot feed responses are just not cached.
	redisClient, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
	if err != nil {
		logger.WarnErr("Redis unavailable, response caching disabled", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	jwtSecret := []byte(cfg.JWTSecret)
	authService := auth.NewService(jwtSecret)

	hub := realtime.NewHub(realtime.NewGormPresence())
	wsHandler := realtime.NewHandler(hub, jwtSecret)
	wsHandler.RegisterDefaultHandlers()

	h := handlers.NewHandlers(authService)
	h.SetHub(hub)
	h.SetRedisClient(redisClient)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.GinLogger())
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"} // Configure properly for production
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID", "X-Idempotency-Key"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		if err := database.Health(); err != nil {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"service":   "pulsefeed-backend",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
			authGroup.GET("/me", authService.Middleware(), h.Me)
		}

		posts := api.Group("/posts")
		{
			posts.Use(authService.Middleware())
			posts.POST("", h.CreatePost)
			posts.GET("", middleware.ResponseCache(redisClient, 30*time.Second), h.ListPosts)
			posts.GET("/:id", h.GetPost)
			posts.DELETE("/:id", h.DeletePost)
			posts.POST("/:id/like", h.LikePost)
			posts.DELETE("/:id/like", h.UnlikePost)
			posts.POST("/:id/comments", h.CreateComment)
			posts.GET("/:id/comments", h.GetComments)
		}

		comments := api.Group("/comments")
		{
			comments.Use(authService.Middleware())
			comments.DELETE("/:id", h.DeleteComment)
		}

		conversations := api.Group("/conversations")
		{
			conversations.Use(authService.Middleware())
			conversations.POST("", h.StartConversation)
			conversations.GET("", h.ListConversations)
			conversations.GET("/:id/messages", h.GetMessages)
			conversations.POST("/:id/read", h.MarkMessagesRead)
		}

		notifications := api.Group("/notifications")
		{
			notifications.Use(authService.Middleware())
			notifications.GET("", h.GetNotifications)
			notifications.POST("/:id/read", h.MarkNotificationRead)
			notifications.POST("/read-all", h.MarkAllNotificationsRead)
		}

		ws := api.Group("/ws")
		{
			// Connection upgrade is public; identity arrives on the
			// authenticate event after the socket is open.
			ws.GET("", wsHandler.HandleWebSocket)
			ws.GET("/connect", wsHandler.HandleWebSocket)

			ws.GET("/stats", authService.Middleware(), wsHandler.HandleMetrics)
			ws.POST("/online", authService.Middleware(), wsHandler.HandleOnlineStatus)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Log.Info("Pulsefeed backend listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		logger.WarnErr("Realtime hub shutdown warning", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}
