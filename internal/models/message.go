package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AttachmentKind distinguishes inline-previewable images from generic files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Message is immutable once created: no edit or delete in this product.
type Message struct {
	ID             string `gorm:"primaryKey;type:text" json:"id"`
	ConversationID string `gorm:"index;type:text;not null" json:"conversationId"`

	SenderID string `gorm:"index;type:text;not null" json:"senderId"`
	Body     string `gorm:"type:text" json:"body"`

	// Read tracking (per-recipient; conversations have exactly two participants)
	IsRead bool       `gorm:"default:false" json:"isRead"`
	ReadAt *time.Time `json:"readAt"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`

	// Idempotency key (client-generated UUID). The server echoes it back so
	// clients can correlate an optimistic entry with its confirmed row.
	ClientMessageID *string `gorm:"index;type:text" json:"clientMessageId,omitempty"`

	// Relations
	Sender      User         `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return
}

// Attachment belongs to exactly one message and is immutable after upload.
type Attachment struct {
	ID        string         `gorm:"primaryKey;type:text" json:"id"`
	MessageID string         `gorm:"index;type:text" json:"-"`
	Kind      AttachmentKind `gorm:"type:text;not null" json:"kind"`

	URL          string `gorm:"type:text;not null" json:"url"`
	ThumbnailURL string `gorm:"type:text" json:"thumbnailUrl,omitempty"`
	Name         string `json:"name"`
	ByteSize     int64  `json:"byteSize"`
	MimeType     string `json:"mimeType"`

	CreatedAt time.Time `json:"createdAt"`
}

func (a *Attachment) BeforeCreate(tx *gorm.DB) (err error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return
}
