package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rick1290/estuary-messaging/internal/config"
	"github.com/rick1290/estuary-messaging/internal/database"
	"github.com/rick1290/estuary-messaging/internal/handlers"
	"github.com/rick1290/estuary-messaging/internal/middleware"
	"github.com/rick1290/estuary-messaging/internal/models"
	"github.com/rick1290/estuary-messaging/internal/realtime"
	"github.com/rick1290/estuary-messaging/internal/routes"
	"github.com/rick1290/estuary-messaging/pkg/logger"
)

func main() {
	// 0. Load Config & Initialize Logger
	config.LoadConfig()

	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}
	logger.Init(env)

	logger.Info().Str("environment", env).Msg("Starting Estuary Messaging...")

	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 1. Connect Database & Redis
	database.Connect()
	database.InitRedis()

	logger.Info().Msg("Running database migrations...")
	err := database.DB.AutoMigrate(
		&models.User{},
		&models.Conversation{},
		&models.ConversationParticipant{},
		&models.Message{},
		&models.Attachment{},
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate database")
	}
	logger.Info().Msg("Database migrations complete")

	// 2. Start the realtime hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	hub := realtime.NewHub(database.Redis)
	hub.OnClientRead = func(conversationID, userID string) {
		if _, err := handlers.MarkConversationRead(conversationID, userID); err != nil {
			logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("Read ping failed")
		}
	}
	handlers.EventHub = hub
	go hub.Run(hubCtx)

	// 3. Setup Router
	r := gin.New()

	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.ErrorHandlerMiddleware())
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	// Exempt the websocket handshake from the general limiter; it is a
	// long-lived connection, not a request per action.
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/api/chat/ws" {
			c.Next()
			return
		}
		middleware.GeneralRateLimit()(c)
	})

	// 4. Register Routes
	api := r.Group("/api")
	{
		routes.RegisterChatRoutes(api)
		routes.RegisterUploadRoutes(api)
	}

	// Health check with DB and Redis status
	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		redisStatus := "ok"

		sqlDB, err := database.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			dbStatus = "error"
		}

		if database.Redis != nil {
			if _, err := database.Redis.Ping(context.Background()).Result(); err != nil {
				redisStatus = "error"
			}
		} else {
			redisStatus = "not configured"
		}

		status := "ok"
		if dbStatus != "ok" {
			status = "degraded"
		}

		c.JSON(http.StatusOK, gin.H{
			"status": status,
			"db":     dbStatus,
			"redis":  redisStatus,
		})
	})

	// 5. Serve with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + config.AppConfig.Port,
		Handler: r,
	}

	go func() {
		logger.Info().Str("port", config.AppConfig.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")
	stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Forced shutdown")
	}

	logger.Info().Msg("Server stopped")
}
