package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation is a two-participant message thread between a practitioner
// and a client. Created implicitly when the first message is sent; never
// deleted, only archived.
type Conversation struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	IsArchived bool `gorm:"default:false" json:"isArchived"`

	// Relations
	Participants []User    `gorm:"many2many:conversation_participants;" json:"participants,omitempty"`
	Messages     []Message `gorm:"foreignKey:ConversationID" json:"-"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// ConversationParticipant tracks who is in a conversation
type ConversationParticipant struct {
	ConversationID string `gorm:"primaryKey;type:text"`
	UserID         string `gorm:"primaryKey;type:text"`
	JoinedAt       time.Time
}

// ConversationSummary is the list-view projection: the other participant,
// the newest message and the viewer's unread count.
type ConversationSummary struct {
	ID          string   `json:"id"`
	Other       User     `json:"other"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	UnreadCount int64    `json:"unreadCount"`
}
