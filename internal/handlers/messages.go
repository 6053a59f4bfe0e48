package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rick1290/estuary-messaging/internal/database"
	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/rick1290/estuary-messaging/internal/realtime"
	errs "github.com/rick1290/estuary-messaging/pkg/errors"
	"github.com/rick1290/estuary-messaging/pkg/logger"
	"gorm.io/gorm"
)

// Per-sender ceiling, enforced in Redis across instances on top of the
// per-IP limiter.
const (
	sendRateLimit  = 30
	sendRateWindow = time.Minute
)

// EventHub is set at startup and used to push realtime events alongside the
// REST responses. Nil in unit tests that only exercise the HTTP surface.
var EventHub *realtime.Hub

type attachmentInput struct {
	Kind         models.AttachmentKind `json:"kind" binding:"required"`
	URL          string                `json:"url" binding:"required"`
	ThumbnailURL string                `json:"thumbnailUrl"`
	Name         string                `json:"name"`
	ByteSize     int64                 `json:"byteSize"`
	MimeType     string                `json:"mimeType"`
}

type sendMessageRequest struct {
	ConversationID  string            `json:"conversationId"`
	RecipientID     string            `json:"recipientId"`
	Body            string            `json:"body"`
	ClientMessageID string            `json:"clientMessageId"`
	Attachments     []attachmentInput `json:"attachments"`
}

// findOrCreateConversation returns the existing two-party conversation
// between the users, creating it on the first message.
func findOrCreateConversation(senderID, recipientID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := database.DB.
		Joins("JOIN conversation_participants a ON a.conversation_id = conversations.id AND a.user_id = ?", senderID).
		Joins("JOIN conversation_participants b ON b.conversation_id = conversations.id AND b.user_id = ?", recipientID).
		First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	conv = models.Conversation{}
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return err
		}
		now := time.Now()
		parts := []models.ConversationParticipant{
			{ConversationID: conv.ID, UserID: senderID, JoinedAt: now},
			{ConversationID: conv.ID, UserID: recipientID, JoinedAt: now},
		}
		return tx.Create(&parts).Error
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// SendMessage creates a message (and, for a first contact, its conversation),
// then pushes it to conversation subscribers. Resends carrying a known
// clientMessageId return the already-stored row instead of duplicating it.
func SendMessage(c *gin.Context) {
	senderID := c.MustGet("userId").(string)

	allowed, err := database.CheckRateLimit(senderID, sendRateLimit, sendRateWindow)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", senderID).Msg("Rate limit check failed")
	} else if !allowed {
		c.Error(errs.ErrRateLimit)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errs.BadRequest("Invalid request"))
		return
	}

	if req.Body == "" && len(req.Attachments) == 0 {
		c.Error(errs.BadRequest("Message needs a body or an attachment"))
		return
	}

	body := req.Body
	if body != "" {
		sanitized, err := SanitizeMessageBody(body)
		if err != nil {
			c.Error(errs.BadRequest(err.Error()))
			return
		}
		body = sanitized
	}

	// Idempotent resend: the client retries with the same key after a
	// timeout, the first write wins.
	if req.ClientMessageID != "" {
		var existing models.Message
		err := database.DB.Preload("Sender").Preload("Attachments").
			Where("sender_id = ? AND client_message_id = ?", senderID, req.ClientMessageID).
			First(&existing).Error
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"message": existing})
			return
		}
	}

	var conv *models.Conversation
	if req.ConversationID != "" {
		if !isParticipant(req.ConversationID, senderID) {
			c.Error(errs.ErrConversationNotFound)
			return
		}
		conv = &models.Conversation{ID: req.ConversationID}
	} else {
		if req.RecipientID == "" || req.RecipientID == senderID {
			c.Error(errs.BadRequest("recipientId required"))
			return
		}
		conv, err = findOrCreateConversation(senderID, req.RecipientID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to resolve conversation")
			c.Error(errs.Internal("Failed to send message"))
			return
		}
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	if req.ClientMessageID != "" {
		msg.ClientMessageID = &req.ClientMessageID
	}
	for _, a := range req.Attachments {
		if a.Kind != models.AttachmentImage && a.Kind != models.AttachmentFile {
			c.Error(errs.BadRequest("Unsupported attachment kind"))
			return
		}
		if err := ValidateAttachmentURL(a.URL); err != nil {
			c.Error(errs.BadRequest(err.Error()))
			return
		}
		if a.ThumbnailURL != "" {
			if err := ValidateAttachmentURL(a.ThumbnailURL); err != nil {
				c.Error(errs.BadRequest(err.Error()))
				return
			}
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Kind:         a.Kind,
			URL:          a.URL,
			ThumbnailURL: a.ThumbnailURL,
			Name:         a.Name,
			ByteSize:     a.ByteSize,
			MimeType:     a.MimeType,
		})
	}

	if err := database.DB.Create(&msg).Error; err != nil {
		logger.Error().Err(err).Msg("Failed to store message")
		c.Error(errs.Internal("Failed to send message"))
		return
	}
	database.DB.Model(&models.Conversation{}).Where("id = ?", conv.ID).
		Update("updated_at", msg.CreatedAt)

	database.DB.Preload("Sender").Preload("Attachments").First(&msg, "id = ?", msg.ID)

	invalidateConversationCaches(conv.ID)

	if EventHub != nil {
		EventHub.Publish(&realtime.Event{
			Type:           realtime.EventMessage,
			ConversationID: conv.ID,
			Message:        &msg,
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkRead marks all inbound messages of a conversation as read. Idempotent.
func MarkRead(c *gin.Context) {
	userID := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	if !isParticipant(conversationID, userID) {
		c.Error(errs.ErrConversationNotFound)
		return
	}

	marked, err := MarkConversationRead(conversationID, userID)
	if err != nil {
		c.Error(errs.Internal("Failed to mark read"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"markedRead": marked})
}

// MarkConversationRead flips unread inbound messages and notifies the other
// participant. Shared by the REST handler and the socket read-ping path.
func MarkConversationRead(conversationID, userID string) (int64, error) {
	now := time.Now()
	result := database.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, userID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		invalidateConversationCaches(conversationID)
	}

	if EventHub != nil && result.RowsAffected > 0 {
		EventHub.Publish(&realtime.Event{
			Type:           realtime.EventRead,
			ConversationID: conversationID,
			Read:           &realtime.ReadEvent{UserID: userID, ReadAt: now},
		})
	}

	return result.RowsAffected, nil
}
