package handlers

import (
	"log"

	"github.com/rick1290/estuary-messaging/internal/config"
	"github.com/rick1290/estuary-messaging/internal/database"
	"github.com/rick1290/estuary-messaging/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB points the global DB at an in-memory sqlite instance and wipes
// it. Shared by every test in this package.
func SetupTestDB() {
	config.AppConfig = &config.Config{
		JWTSecret:          "test_secret_key_12345",
		R2PublicURL:        "https://media.estuary-test.example.com",
		AttachmentMaxBytes: 25 << 20,
	}

	if database.DB == nil {
		db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			log.Fatalf("Failed to open test DB: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("Failed to get underlying sql.DB: %v", err)
		}
		// A single connection keeps the shared in-memory DB alive
		sqlDB.SetMaxOpenConns(1)

		if err := db.AutoMigrate(
			&models.User{},
			&models.Conversation{},
			&models.ConversationParticipant{},
			&models.Message{},
			&models.Attachment{},
		); err != nil {
			log.Fatalf("Failed to migrate test DB: %v", err)
		}
		database.DB = db
	}

	// Fresh tables per test
	database.DB.Exec("DELETE FROM attachments")
	database.DB.Exec("DELETE FROM messages")
	database.DB.Exec("DELETE FROM conversation_participants")
	database.DB.Exec("DELETE FROM conversations")
	database.DB.Exec("DELETE FROM users")
}
