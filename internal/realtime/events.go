package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names exchanged between server and clients.
const (
	// System
	EventSystem = "system"
	EventPing   = "ping"
	EventPong   = "pong"
	EventError  = "error"

	// Connection lifecycle
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventAuthError     = "authError"

	// Chat
	EventJoinChat    = "joinChat"
	EventLeaveChat   = "leaveChat"
	EventSendMessage = "sendMessage"
	EventNewMessage  = "newMessage"
	EventTyping      = "typing"
	EventUserTyping  = "userTyping"

	// Call signaling (ephemeral, best-effort)
	EventInitiateCall = "initiateCall"
	EventIncomingCall = "incomingCall"
	EventCallResponse = "callResponse"
	EventWebRTCSignal = "webrtc-signal"

	// Presence
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"

	// Domain broadcasts
	EventNewPost     = "newPost"
	EventPostLiked   = "postLiked"
	EventNewComment  = "newComment"
	EventPostDeleted = "postDeleted"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Event is the envelope for every realtime message in either direction.
type Event struct {
	// Type identifies the event name for routing
	Type string `json:"type"`

	// Payload contains the event-specific data
	Payload interface{} `json:"payload,omitempty"`

	// ID is a unique event identifier for acknowledgment
	ID string `json:"id,omitempty"`

	// ReplyTo references the original event ID for responses
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp when the event was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType string, payload interface{}) *Event {
	return &Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(code, message string) *Event {
	return &Event{
		Type: EventError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// ParsePayload unmarshals the payload into a specific type
func (e *Event) ParsePayload(target interface{}) error {
	if e.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// ErrorPayload represents an error event payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthPayload carries the credential on authenticate and the result on
// authenticated/authError.
type AuthPayload struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PresencePayload represents a userOnline/userOffline broadcast.
type PresencePayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Status    string `json:"status"`
	LastSeen  int64  `json:"last_seen,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RoomPayload carries joinChat/leaveChat requests.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// ChatMessagePayload carries sendMessage requests and newMessage broadcasts.
type ChatMessagePayload struct {
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	Body           string `json:"body"`
	CreatedAt      int64  `json:"created_at,omitempty"`
}

// TypingPayload is relayed to a conversation room as userTyping.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// CallPayload carries call invites and responses between two identities.
type CallPayload struct {
	CallID   string `json:"call_id"`
	FromID   string `json:"from_id,omitempty"`
	FromName string `json:"from_name,omitempty"`
	TargetID string `json:"target_id"`
	Accepted bool   `json:"accepted,omitempty"`
}

// SignalPayload is an opaque WebRTC signaling blob relayed between peers.
type SignalPayload struct {
	TargetID string          `json:"target_id"`
	FromID   string          `json:"from_id,omitempty"`
	Data     json.RawMessage `json:"data"`
}

// PostPayload represents newPost/postDeleted broadcasts.
type PostPayload struct {
	PostID    string `json:"post_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text,omitempty"`
	MediaURL  string `json:"media_url,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
}

// LikePayload represents a postLiked broadcast.
type LikePayload struct {
	PostID    string `json:"post_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	LikeCount int    `json:"like_count"`
}

// CommentPayload represents a newComment broadcast.
type CommentPayload struct {
	CommentID string  `json:"comment_id"`
	PostID    string  `json:"post_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	UserID    string  `json:"user_id"`
	Username  string  `json:"username,omitempty"`
	Body      string  `json:"body"`
	CreatedAt int64   `json:"created_at,omitempty"`
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
