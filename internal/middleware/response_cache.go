package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pulsefeed/backend/internal/cache"
	"github.com/pulsefeed/backend/internal/logger"
)

// cacheWriter tees the response body so it can be stored after the handler
// runs.
type cacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *cacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// ResponseCache caches successful GET responses in Redis for the given TTL.
// Cache keys are scoped per user so personalized feeds never leak across
// accounts. No-op passthrough when redis is nil.
func ResponseCache(redis *cache.RedisClient, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redis == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := "respcache:" + c.GetString("user_id") + ":" + c.Request.URL.RequestURI()

		if cached, err := redis.Get(c.Request.Context(), key); err == nil {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		writer := &cacheWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer
		c.Header("X-Cache", "MISS")

		c.Next()

		if c.Writer.Status() == http.StatusOK && writer.body.Len() > 0 {
			if err := redis.SetEx(c.Request.Context(), key, writer.body.String(), ttl); err != nil {
				logger.WarnErr("Failed to store response in cache", err)
			}
		}
	}
}
