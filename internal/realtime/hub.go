// Package realtime implements the fan-out hub for live connections: presence,
// chat rooms, direct relays, and domain broadcasts over WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/metrics"
	"go.uber.org/zap"
)

// EventHandler processes incoming events of a specific type. Handlers run to
// completion before the next event on the same connection is dispatched.
type EventHandler func(client *Client, event *Event) error

// PresenceStore persists a user's online flag and last-seen timestamp. The
// hub flips it on authenticate and disconnect.
type PresenceStore interface {
	SetOnline(userID string) error
	SetOffline(userID string, lastSeen time.Time) error
}

// Hub is the process-wide fan-out service. It owns exactly one mapping from
// identity to live connection; a second authentication by the same identity
// replaces the first connection.
type Hub struct {
	// Identity -> the single tracked connection for that identity.
	clients map[string]*Client

	// Room id -> member connections. Membership is per-connection.
	rooms map[string]map[*Client]struct{}

	// Event-name dispatch table.
	handlers map[string]EventHandler

	presence PresenceStore

	mu sync.RWMutex

	// Shutdown handling
	ctx    context.Context
	cancel context.CancelFunc

	rateLimitConfig RateLimitConfig
}

// RateLimitConfig defines per-client rate limiting parameters.
type RateLimitConfig struct {
	MaxEventsPerSecond int
	BurstSize          int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxEventsPerSecond: 10,
		BurstSize:          20,
	}
}

// NewHub creates a new Hub instance
func NewHub(presence PresenceStore) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:         make(map[string]*Client),
		rooms:           make(map[string]map[*Client]struct{}),
		handlers:        make(map[string]EventHandler),
		presence:        presence,
		ctx:             ctx,
		cancel:          cancel,
		rateLimitConfig: DefaultRateLimitConfig(),
	}
}

// RegisterHandler registers a handler for a specific event type
func (h *Hub) RegisterHandler(eventType string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[eventType] = handler
}

// GetHandler returns the handler for an event type
func (h *Hub) GetHandler(eventType string) (EventHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[eventType]
	return handler, ok
}

// Authenticate records the identity→connection mapping for a client whose
// token has been validated. An existing connection for the same identity is
// displaced and closed. Returns the displaced client, if any.
func (h *Hub) Authenticate(client *Client, userID, username string) *Client {
	h.mu.Lock()
	previous := h.clients[userID]
	client.UserID = userID
	client.Username = username
	client.setAuthenticated()
	h.clients[userID] = client
	if previous != nil {
		h.removeFromRoomsLocked(previous)
	}
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(h.ClientCount()))

	if previous != nil {
		previous.Close()
		logger.Log.Info("Displaced previous connection for identity",
			zap.String("user_id", userID))
	}

	if h.presence != nil {
		if err := h.presence.SetOnline(userID); err != nil {
			logger.WarnErr("Failed to persist online presence", err)
		}
	}

	// Everyone except the newly-authenticated client learns they came online.
	h.broadcastExcept(client, NewEvent(EventUserOnline, PresencePayload{
		UserID:    userID,
		Username:  username,
		Status:    "online",
		Timestamp: time.Now().UnixMilli(),
	}))

	return previous
}

// Disconnect removes a client from the hub. The identity mapping is only
// cleared when it still points at this client, so a displaced connection
// disconnecting later does not knock out its replacement.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()
	wasMapped := client.UserID != "" && h.clients[client.UserID] == client
	if wasMapped {
		delete(h.clients, client.UserID)
	}
	h.removeFromRoomsLocked(client)
	h.mu.Unlock()

	client.Close()
	metrics.WebSocketConnections.Set(float64(h.ClientCount()))

	if !wasMapped {
		return
	}

	lastSeen := time.Now().UTC()
	if h.presence != nil {
		if err := h.presence.SetOffline(client.UserID, lastSeen); err != nil {
			logger.WarnErr("Failed to persist offline presence", err)
		}
	}

	h.BroadcastGlobal(NewEvent(EventUserOffline, PresencePayload{
		UserID:    client.UserID,
		Username:  client.Username,
		Status:    "offline",
		LastSeen:  lastSeen.UnixMilli(),
		Timestamp: lastSeen.UnixMilli(),
	}))
}

// JoinRoom adds a connection to a room. Rooms are created on first join.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.joinRoom(roomID)
}

// LeaveRoom removes a connection from a room, deleting empty rooms.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(client, roomID)
}

func (h *Hub) leaveRoomLocked(client *Client, roomID string) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	client.leaveRoom(roomID)
}

func (h *Hub) removeFromRoomsLocked(client *Client) {
	for _, roomID := range client.roomIDs() {
		h.leaveRoomLocked(client, roomID)
	}
}

// BroadcastGlobal sends an event to every currently-connected client.
// Cost is O(connections); clients that disconnect mid-broadcast miss it.
func (h *Hub) BroadcastGlobal(event *Event) {
	h.broadcastExcept(nil, event)
}

func (h *Hub) broadcastExcept(except *Client, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.ErrorErr("Error marshaling broadcast event", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		if client != except {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	metrics.WebSocketEvents.WithLabelValues(event.Type, "out").Add(float64(len(targets)))
	for _, client := range targets {
		h.deliver(client, data)
	}
}

// BroadcastRoom sends an event to every connection joined to the room,
// optionally excluding the sender.
func (h *Hub) BroadcastRoom(roomID string, event *Event, except *Client) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.ErrorErr("Error marshaling room event", err)
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != except {
			members = append(members, client)
		}
	}
	h.mu.RUnlock()

	metrics.WebSocketEvents.WithLabelValues(event.Type, "out").Add(float64(len(members)))
	for _, client := range members {
		h.deliver(client, data)
	}
}

// RelayDirect sends an event to the connection mapped for an identity.
// A miss (identity not connected) is a normal best-effort outcome: the event
// is silently dropped and false is returned.
func (h *Hub) RelayDirect(userID string, event *Event) bool {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.ErrorErr("Error marshaling direct event", err)
		return false
	}

	metrics.WebSocketEvents.WithLabelValues(event.Type, "out").Inc()
	h.deliver(client, data)
	return true
}

// deliver enqueues bytes on a client's send buffer; a full buffer drops the
// connection rather than blocking the caller.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		metrics.BroadcastDrops.Inc()
		go h.Disconnect(client)
	}
}

// IsUserOnline checks if an identity currently has a tracked connection.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// ConnectionFor returns the tracked connection for an identity, if any.
func (h *Hub) ConnectionFor(userID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[userID]
	return client, ok
}

// ClientCount returns the number of tracked connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnlineUserIDs returns all identities with a tracked connection.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	return users
}

// RoomMemberCount returns how many connections are joined to a room.
func (h *Hub) RoomMemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// GetRateLimitConfig returns the current rate limit configuration
func (h *Hub) GetRateLimitConfig() RateLimitConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rateLimitConfig
}

// SetRateLimitConfig updates the rate limiting configuration
func (h *Hub) SetRateLimitConfig(config RateLimitConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimitConfig = config
}

// Shutdown closes every connection and stops accepting new ones.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	shutdownEvent := NewEvent(EventSystem, SystemPayload{Event: "server_shutdown"})
	data, _ := json.Marshal(shutdownEvent)

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
		}
		client.Close()
	}

	metrics.WebSocketConnections.Set(0)
	logger.Log.Info("Realtime hub shut down", zap.Int("connections_closed", len(clients)))

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	default:
		return nil
	}
}
