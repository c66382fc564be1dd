package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Time allowed to write an event to the peer
	writeWait = 10 * time.Second

	// Time allowed between reads before the connection is considered dead
	readWait = 60 * time.Second

	// Send pings to peer with this period (must be less than readWait)
	pingPeriod = (readWait * 9) / 10

	// Maximum event size allowed from peer
	maxEventSize = 512 * 1024 // 512KB

	// Send buffer size
	sendBufferSize = 256
)

// connState tracks the per-connection state machine:
// unauthenticated → authenticated → disconnected (terminal).
type connState int32

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateDisconnected
)

// Client represents a single live connection. UserID and Username are empty
// until the connection authenticates.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	UserID   string
	Username string

	// Buffered channel of outbound marshaled events
	send chan []byte

	ConnectedAt time.Time
	RemoteAddr  string

	rateLimiter *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	state connState
	rooms map[string]struct{}
}

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens    float64
	maxTokens float64
	refill    float64
	lastTime  time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxPerSecond int, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:    float64(burst),
		maxTokens: float64(burst),
		refill:    float64(maxPerSecond),
		lastTime:  time.Now(),
	}
}

// Allow checks if an action is allowed and consumes a token
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastTime).Seconds()
	r.lastTime = now

	r.tokens += elapsed * r.refill
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// NewClient creates a Client in the unauthenticated state.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	config := hub.GetRateLimitConfig()

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		ConnectedAt: time.Now(),
		rateLimiter: NewRateLimiter(config.MaxEventsPerSecond, config.BurstSize),
		ctx:         ctx,
		cancel:      cancel,
		state:       stateUnauthenticated,
		rooms:       make(map[string]struct{}),
	}
}

// IsAuthenticated reports whether the connection has completed the
// authenticate handshake.
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateAuthenticated
}

func (c *Client) setAuthenticated() {
	c.mu.Lock()
	c.state = stateAuthenticated
	c.mu.Unlock()
}

func (c *Client) joinRoom(roomID string) {
	c.rooms[roomID] = struct{}{}
}

func (c *Client) leaveRoom(roomID string) {
	delete(c.rooms, roomID)
}

func (c *Client) roomIDs() []string {
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// InRoom reports whether the connection is joined to a room.
func (c *Client) InRoom(roomID string) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// ReadPump pumps events from the WebSocket connection into the dispatch
// table. It blocks until the connection dies; events on one connection are
// handled strictly in order.
func (c *Client) ReadPump() {
	defer c.hub.Disconnect(c)

	c.conn.SetReadLimit(maxEventSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		readCtx, readCancel := context.WithTimeout(c.ctx, readWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Log.Info("Client disconnected normally", zap.String("user", c.UserID))
			} else if c.ctx.Err() == nil {
				logger.Log.Warn("Read error for client", zap.String("user", c.UserID), zap.Error(err))
			}
			return
		}

		if !c.rateLimiter.Allow() {
			c.SendError("rate_limited", "Too many events, please slow down")
			continue
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Log.Warn("Event JSON parse error",
				zap.String("user", c.UserID),
				zap.Error(err))
			c.SendError("invalid_json", "Failed to parse event")
			continue
		}

		metrics.WebSocketEvents.WithLabelValues(event.Type, "in").Inc()
		c.handleEvent(&event)
	}
}

// WritePump pumps events from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
			return

		case data, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "closing")
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()

			if err != nil {
				logger.Log.Warn("Write error for client", zap.String("user", c.UserID), zap.Error(err))
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				logger.Log.Warn("Ping failed for client", zap.String("user", c.UserID), zap.Error(err))
				return
			}
		}
	}
}

// handleEvent routes an incoming event through the dispatch table. Until the
// connection authenticates, only authenticate and ping are accepted.
func (c *Client) handleEvent(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = FlexibleTime{Time: time.Now().UTC()}
	}

	switch event.Type {
	case EventPing, "heartbeat": // "heartbeat" is an alias for ping
		c.Send(NewEvent(EventPong, map[string]int64{
			"server_time": time.Now().UnixMilli(),
		}))
		return
	}

	if !c.IsAuthenticated() && event.Type != EventAuthenticate {
		c.Send(NewEvent(EventAuthError, AuthPayload{
			Status: "failed",
			Error:  "authentication required",
		}))
		return
	}

	if handler, ok := c.hub.GetHandler(event.Type); ok {
		if err := handler(c, event); err != nil {
			logger.Log.Error("Handler error",
				zap.String("type", event.Type),
				zap.Error(err))
			c.SendError("handler_error", fmt.Sprintf("Failed to process %s", event.Type))
		}
		return
	}

	logger.Log.Warn("Unknown event type",
		zap.String("user", c.UserID),
		zap.String("type", event.Type))
	c.SendError("unknown_type", fmt.Sprintf("Unknown event type: %s", event.Type))
}

// Send sends an event to this client
func (c *Client) Send(event *Event) error {
	c.mu.RLock()
	if c.state == stateDisconnected {
		c.mu.RUnlock()
		return fmt.Errorf("client connection closed")
	}
	c.mu.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("client shutting down")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// SendError sends an error event to the client
func (c *Client) SendError(code, message string) {
	_ = c.Send(NewErrorEvent(code, message))
}

// Close transitions the connection to the terminal disconnected state.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == stateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = stateDisconnected
	c.mu.Unlock()

	c.cancel()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateDisconnected
}
