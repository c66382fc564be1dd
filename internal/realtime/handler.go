package realtime

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/pulsefeed/backend/internal/auth"
	"github.com/pulsefeed/backend/internal/database"
	"github.com/pulsefeed/backend/internal/logger"
	"github.com/pulsefeed/backend/internal/models"
	"go.uber.org/zap"
)

// Handler owns the WebSocket upgrade endpoint and the default event
// handlers. Connections are upgraded unauthenticated; the client's first
// authenticate event carries the JWT.
type Handler struct {
	hub       *Hub
	jwtSecret []byte
}

// NewHandler creates a new realtime handler
func NewHandler(hub *Hub, jwtSecret []byte) *Handler {
	return &Handler{
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

// GetHub returns the hub for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}

// HandleWebSocket upgrades the HTTP connection and runs the client pumps.
// The connection starts unauthenticated; every event except authenticate and
// ping is rejected until the handshake completes.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks are enforced by the CORS layer
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.WarnErr("WebSocket upgrade failed", err)
		return
	}

	client := NewClient(h.hub, conn)
	client.RemoteAddr = c.ClientIP()

	go client.WritePump()
	client.ReadPump() // blocks until the connection dies
}

// HandleMetrics returns hub statistics (for monitoring)
func (h *Handler) HandleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections":  h.hub.ClientCount(),
		"online_users": h.hub.OnlineUserIDs(),
		"timestamp":    time.Now().UTC(),
	})
}

// HandleOnlineStatus checks if specific users are online
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]bool)
	for _, userID := range req.UserIDs {
		statuses[userID] = h.hub.IsUserOnline(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}

// RegisterDefaultHandlers wires the dispatch table: authentication, chat
// rooms, message relay, typing indicators, and call signaling.
func (h *Handler) RegisterDefaultHandlers() {
	h.hub.RegisterHandler(EventAuthenticate, h.handleAuthenticate)
	h.hub.RegisterHandler(EventJoinChat, h.handleJoinChat)
	h.hub.RegisterHandler(EventLeaveChat, h.handleLeaveChat)
	h.hub.RegisterHandler(EventSendMessage, h.handleSendMessage)
	h.hub.RegisterHandler(EventTyping, h.handleTyping)
	h.hub.RegisterHandler(EventInitiateCall, h.handleInitiateCall)
	h.hub.RegisterHandler(EventCallResponse, h.handleCallResponse)
	h.hub.RegisterHandler(EventWebRTCSignal, h.handleWebRTCSignal)
}

// handleAuthenticate validates the token and promotes the connection.
// Failures are reported to the requesting connection only.
func (h *Handler) handleAuthenticate(client *Client, event *Event) error {
	var payload AuthPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}

	userID, err := auth.ParseUserID(payload.Token, h.jwtSecret)
	if err != nil {
		client.Send(NewEvent(EventAuthError, AuthPayload{
			Status: "failed",
			Error:  "invalid or expired token",
		}))
		return nil
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		client.Send(NewEvent(EventAuthError, AuthPayload{
			Status: "failed",
			Error:  "user not found",
		}))
		return nil
	}

	h.hub.Authenticate(client, user.ID, user.Username)

	logger.Log.Info("Client authenticated",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username))

	return client.Send(NewEvent(EventAuthenticated, AuthPayload{
		UserID:   user.ID,
		Username: user.Username,
		Status:   "authenticated",
	}))
}

// handleJoinChat adds the connection to a conversation room after checking
// the user belongs to that conversation.
func (h *Handler) handleJoinChat(client *Client, event *Event) error {
	var payload RoomPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.RoomID == "" {
		client.SendError("invalid_room", "room_id is required")
		return nil
	}

	var conv models.Conversation
	err := database.DB.
		Where("id = ? AND (user_a_id = ? OR user_b_id = ?)", payload.RoomID, client.UserID, client.UserID).
		First(&conv).Error
	if err != nil {
		client.SendError("forbidden", "not a member of this conversation")
		return nil
	}

	h.hub.JoinRoom(client, payload.RoomID)
	return nil
}

func (h *Handler) handleLeaveChat(client *Client, event *Event) error {
	var payload RoomPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}
	h.hub.LeaveRoom(client, payload.RoomID)
	return nil
}

// handleSendMessage persists the chat message and fans it out to the room as
// newMessage. The recipient also gets a direct copy in case they have not
// joined the room, plus a persisted notification.
func (h *Handler) handleSendMessage(client *Client, event *Event) error {
	var payload ChatMessagePayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}
	if payload.ConversationID == "" || payload.Body == "" {
		client.SendError("invalid_message", "conversation_id and body are required")
		return nil
	}

	var conv models.Conversation
	err := database.DB.
		Where("id = ? AND (user_a_id = ? OR user_b_id = ?)", payload.ConversationID, client.UserID, client.UserID).
		First(&conv).Error
	if err != nil {
		client.SendError("forbidden", "not a member of this conversation")
		return nil
	}

	msg := models.ChatMessage{
		ID:             newID(),
		ConversationID: conv.ID,
		SenderID:       client.UserID,
		Body:           payload.Body,
	}
	if err := database.DB.Create(&msg).Error; err != nil {
		return err
	}

	now := time.Now().UTC()
	database.DB.Model(&conv).UpdateColumn("last_message_at", now)

	out := NewEvent(EventNewMessage, ChatMessagePayload{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		SenderID:       client.UserID,
		SenderName:     client.Username,
		Body:           msg.Body,
		CreatedAt:      msg.CreatedAt.UnixMilli(),
	})

	h.hub.BroadcastRoom(conv.ID, out, client)

	peerID := conv.UserAID
	if peerID == client.UserID {
		peerID = conv.UserBID
	}
	if peer, ok := h.hub.ConnectionFor(peerID); !ok || !peer.InRoom(conv.ID) {
		h.hub.RelayDirect(peerID, out)
	}

	notif := models.Notification{
		ID:       newID(),
		UserID:   peerID,
		Type:     "new_message",
		Title:    client.Username,
		Body:     msg.Body,
		TargetID: conv.ID,
	}
	if err := database.DB.Create(&notif).Error; err != nil {
		logger.WarnErr("Failed to persist message notification", err)
	}

	return nil
}

// handleTyping relays a typing indicator to the conversation room. Nothing
// is persisted; a miss is fine.
func (h *Handler) handleTyping(client *Client, event *Event) error {
	var payload TypingPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}

	payload.UserID = client.UserID
	payload.Username = client.Username
	h.hub.BroadcastRoom(payload.ConversationID, NewEvent(EventUserTyping, payload), client)
	return nil
}

// handleInitiateCall relays a call invite to the target identity. Delivery
// is best-effort: a target that is not connected simply never sees it.
func (h *Handler) handleInitiateCall(client *Client, event *Event) error {
	var payload CallPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}

	payload.FromID = client.UserID
	payload.FromName = client.Username
	h.hub.RelayDirect(payload.TargetID, NewEvent(EventIncomingCall, payload))
	return nil
}

func (h *Handler) handleCallResponse(client *Client, event *Event) error {
	var payload CallPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}

	payload.FromID = client.UserID
	h.hub.RelayDirect(payload.TargetID, NewEvent(EventCallResponse, payload))
	return nil
}

func (h *Handler) handleWebRTCSignal(client *Client, event *Event) error {
	var payload SignalPayload
	if err := event.ParsePayload(&payload); err != nil {
		return err
	}

	payload.FromID = client.UserID
	h.hub.RelayDirect(payload.TargetID, NewEvent(EventWebRTCSignal, payload))
	return nil
}
