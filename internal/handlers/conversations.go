package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rick1290/estuary-messaging/internal/database"
	"github.com/rick1290/estuary-messaging/internal/models"
	errs "github.com/rick1290/estuary-messaging/pkg/errors"
	"github.com/rick1290/estuary-messaging/pkg/logger"
)

// conversationsCacheTTL bounds how stale a cached summary list may get; every
// send and read also invalidates the affected users' entries.
const conversationsCacheTTL = 30 * time.Second

func conversationsCacheKey(userID string) string {
	return "conversations:" + userID
}

// invalidateConversationCaches drops the cached summary lists of everyone in
// a conversation after its state changed.
func invalidateConversationCaches(conversationID string) {
	var userIDs []string
	if err := database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &userIDs).Error; err != nil {
		return
	}
	for _, id := range userIDs {
		if err := database.CacheInvalidate(conversationsCacheKey(id)); err != nil {
			logger.Warn().Err(err).Str("user_id", id).Msg("Cache invalidation failed")
		}
	}
}

// conversationIDsFor returns the ids of every conversation the user belongs to.
func conversationIDsFor(userID string) ([]string, error) {
	var ids []string
	err := database.DB.Model(&models.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &ids).Error
	return ids, err
}

func isParticipant(conversationID, userID string) bool {
	var count int64
	database.DB.Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count)
	return count > 0
}

// ListConversations returns summaries for the viewer: the other participant,
// the newest message and the unread count, ordered by recency.
func ListConversations(c *gin.Context) {
	userID := c.MustGet("userId").(string)

	var cached []models.ConversationSummary
	if err := database.CacheGet(conversationsCacheKey(userID), &cached); err == nil {
		c.JSON(http.StatusOK, gin.H{"conversations": cached})
		return
	}

	ids, err := conversationIDsFor(userID)
	if err != nil {
		c.Error(errs.Internal("Failed to fetch conversations"))
		return
	}

	var conversations []models.Conversation
	if len(ids) > 0 {
		err = database.DB.Preload("Participants").
			Where("id IN ?", ids).
			Order("updated_at DESC").
			Find(&conversations).Error
		if err != nil {
			c.Error(errs.Internal("Failed to fetch conversations"))
			return
		}
	}

	// Message volume per conversation is low in this product, so per-row
	// queries beat a hairy aggregate join here.
	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for _, conv := range conversations {
		summary := models.ConversationSummary{ID: conv.ID}

		for _, p := range conv.Participants {
			if p.ID != userID {
				summary.Other = p
				break
			}
		}

		var last models.Message
		err := database.DB.Preload("Attachments").
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC").
			First(&last).Error
		if err == nil {
			summary.LastMessage = &last
		}

		database.DB.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conv.ID, userID, false).
			Count(&summary.UnreadCount)

		summaries = append(summaries, summary)
	}

	if err := database.CacheSet(conversationsCacheKey(userID), summaries, conversationsCacheTTL); err != nil {
		logger.Warn().Err(err).Msg("Failed to cache conversation summaries")
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// GetConversation returns a single conversation with its participants.
func GetConversation(c *gin.Context) {
	userID := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	if !isParticipant(conversationID, userID) {
		c.Error(errs.ErrConversationNotFound)
		return
	}

	var conv models.Conversation
	if err := database.DB.Preload("Participants").First(&conv, "id = ?", conversationID).Error; err != nil {
		c.Error(errs.ErrConversationNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// GetMessages returns the full message history of a conversation, ascending
// by creation time, with sender and attachments preloaded.
func GetMessages(c *gin.Context) {
	userID := c.MustGet("userId").(string)
	conversationID := c.Param("id")

	if !isParticipant(conversationID, userID) {
		c.Error(errs.ErrConversationNotFound)
		return
	}

	var messages []models.Message
	err := database.DB.Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Preload("Sender").
		Preload("Attachments").
		Find(&messages).Error
	if err != nil {
		logger.Error().Err(err).Str("conversation_id", conversationID).Msg("Failed to fetch messages")
		c.Error(errs.Internal("Failed to fetch messages"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
