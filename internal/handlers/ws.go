package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rick1290/estuary-messaging/internal/realtime"
	errs "github.com/rick1290/estuary-messaging/pkg/errors"
	"github.com/rick1290/estuary-messaging/pkg/logger"
	"github.com/rick1290/estuary-messaging/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers cannot set headers on the ws handshake; origin checking plus
	// the token below carry the auth burden.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeConversationSocket upgrades the request into the conversation's
// realtime channel. The token travels as a query parameter because the
// handshake cannot carry an Authorization header.
func ServeConversationSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.Error(errs.Unauthorized("token required"))
		return
	}

	claims, err := utils.ValidateToken(token)
	if err != nil {
		c.Error(errs.Unauthorized("invalid token"))
		return
	}
	userID := claims.UserID

	conversationID := c.Query("conversationId")
	if !utils.IsUUID(conversationID) {
		c.Error(errs.BadRequest("conversationId required"))
		return
	}

	if !isParticipant(conversationID, userID) {
		c.Error(errs.ErrConversationNotFound)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Socket upgrade failed")
		return
	}

	conn := realtime.NewConnection(userID, conversationID, ws)
	EventHub.Attach(conn)

	logger.Debug().
		Str("user_id", userID).
		Str("conversation_id", conversationID).
		Msg("Conversation socket attached")
}
