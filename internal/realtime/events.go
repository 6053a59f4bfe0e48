package realtime

import (
	"time"

	"github.com/rick1290/estuary-messaging/internal/models"
)

// EventType enumerates the server-initiated event kinds a conversation
// subscriber can receive.
type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventRead    EventType = "read"
)

// Event is the wire envelope pushed to conversation subscribers. Exactly one
// of the payload pointers is set, matching Type.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId"`

	Message *models.Message `json:"message,omitempty"`
	Typing  *TypingEvent    `json:"typing,omitempty"`
	Read    *ReadEvent      `json:"read,omitempty"`
}

// TypingEvent signals that a participant started or stopped composing.
// Ephemeral: never persisted, consumers apply their own expiry.
type TypingEvent struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ReadEvent signals that a participant has seen messages up to ReadAt.
type ReadEvent struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// ClientFrame is what a subscriber may send upstream over the socket:
// typing intent and read-marker pings. Both are best-effort signals.
type ClientFrame struct {
	Type     EventType `json:"type"`
	IsTyping bool      `json:"isTyping,omitempty"`
}
