package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rick1290/estuary-messaging/internal/handlers"
	"github.com/rick1290/estuary-messaging/internal/middleware"
)

func RegisterUploadRoutes(r gin.IRouter) {
	upload := r.Group("/upload")
	upload.Use(middleware.AuthMiddleware())
	{
		upload.POST("/chat-attachment", middleware.UploadRateLimit(), handlers.UploadChatAttachment)
	}
}
