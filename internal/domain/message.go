package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is one chat message posted to a room.
type Message struct {
	ID        uuid.UUID   `json:"id"`
	RoomID    uuid.UUID   `json:"room_id"`
	SenderID  uuid.UUID   `json:"sender_id"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
	Sender    *PublicUser `json:"sender,omitempty"`
}
