// Package db opens the postgres connection and runs schema migrations.
package db

import (
	"fmt"

	"covertext/internal/config"
	"covertext/pkg/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Error)
	if cfg.IsDevelopment() {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN()), &gorm.Config{
		Logger:                                   gormLogger,
		DisableForeignKeyConstraintWhenMigrating: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// AutoMigrate runs database migrations using GORM
func AutoMigrate(db *gorm.DB) error {
	log.Info().Msg("running GORM AutoMigrate")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		log.Warn().Err(err).Msg("could not create uuid-ossp extension")
	}

	if err := db.AutoMigrate(models.GetAllModels()...); err != nil {
		return fmt.Errorf("failed to run GORM AutoMigrate: %w", err)
	}

	if err := createCustomIndexes(db); err != nil {
		log.Warn().Err(err).Msg("failed to create some custom indexes")
	}

	log.Info().Msg("GORM AutoMigrate completed")
	return nil
}

// createCustomIndexes creates the indexes GORM's tags cannot express.
func createCustomIndexes(db *gorm.DB) error {
	indexes := []string{
		// Delivery receipts correlate by the provider's message id.
		`CREATE INDEX IF NOT EXISTS idx_messages_external_id ON messages(external_id) WHERE external_id != ''`,

		// The draft approval queue scans by sender and status.
		`CREATE INDEX IF NOT EXISTS idx_messages_sender_status ON messages(sender_id, status)`,

		// Conversation lists order by recency with a COALESCE fallback.
		`CREATE INDEX IF NOT EXISTS idx_conversations_agent_recency ON conversations(agent_id, last_message_at DESC)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			log.Warn().Err(err).Str("index", idx).Msg("failed to create index")
		}
	}

	return nil
}

// RunMigrations is the main migration function called from main.go
func RunMigrations(db *gorm.DB) error {
	if err := AutoMigrate(db); err != nil {
		return fmt.Errorf("AutoMigrate failed: %w", err)
	}
	log.Info().Msg("all migrations completed")
	return nil
}
