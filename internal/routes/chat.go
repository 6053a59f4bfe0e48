package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rick1290/estuary-messaging/internal/handlers"
	"github.com/rick1290/estuary-messaging/internal/middleware"
)

func RegisterChatRoutes(r gin.IRouter) {
	chat := r.Group("/chat")

	// The ws handshake authenticates via query token, not the bearer header
	chat.GET("/ws", handlers.ServeConversationSocket)

	protected := chat.Group("")
	protected.Use(middleware.AuthMiddleware())
	{
		protected.GET("/conversations", handlers.ListConversations)
		protected.GET("/conversations/:id", handlers.GetConversation)
		protected.GET("/conversations/:id/messages", handlers.GetMessages)
		protected.POST("/conversations/:id/read", handlers.MarkRead)
		protected.POST("/messages", middleware.MessageRateLimit(), handlers.SendMessage)
	}
}
