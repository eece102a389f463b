package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/domain"
)

// Event types for client -> server
const (
	EventTypeAuth        = "auth"
	EventTypeRoomJoin    = "room.join"
	EventTypeRoomLeave   = "room.leave"
	EventTypeMessageSend = "message.send"
)

// Event types for server -> client
const (
	EventTypeError            = "error"
	EventTypeAuthSuccess      = "auth.success"
	EventTypeRoomJoined       = "room.joined"
	EventTypeMessageNew       = "message.new"
	EventTypeUserJoined       = "users.join"
	EventTypeUserLeft         = "users.leave"
	EventTypeUserDisconnected = "users.disconnected"
)

// Message is the base WebSocket message envelope
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(eventType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// AuthPayload for authenticating the WebSocket connection
type AuthPayload struct {
	Token string `json:"token"` // JWT access token
}

// RoomJoinPayload for joining a room; Password is only needed for
// password-protected rooms the user is not yet a member of.
type RoomJoinPayload struct {
	RoomID   string `json:"room_id"`
	Password string `json:"password,omitempty"`
}

// RoomLeavePayload for leaving a room
type RoomLeavePayload struct {
	RoomID string `json:"room_id"`
}

// MessageSendPayload for sending a message via WebSocket
type MessageSendPayload struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
	TempID string `json:"temp_id,omitempty"` // Client-side temp ID for optimistic UI
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthSuccessPayload confirms successful authentication
type AuthSuccessPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// RoomJoinedPayload confirms a room join, carrying the current occupants
type RoomJoinedPayload struct {
	Room  domain.RoomView      `json:"room"`
	Users []*domain.PublicUser `json:"users"`
}

// MessageNewPayload broadcasts a new message to room members
type MessageNewPayload struct {
	ID             uuid.UUID `json:"id"`
	RoomID         uuid.UUID `json:"room_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	SenderUsername string    `json:"sender_username"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	TempID         string    `json:"temp_id,omitempty"` // Echo back for sender
}

// UserEventPayload announces a presence change: a resolved user record
// annotated with the room it happened in.
type UserEventPayload struct {
	RoomID uuid.UUID          `json:"room_id"`
	User   *domain.PublicUser `json:"user"`
}
