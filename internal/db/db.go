package db

import (
	"fmt"
	stlog "log"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"zapdesk/internal/models"
)

// Open connects to the sqlite database at the given DSN and runs the
// schema migration. The returned handle is meant to be passed into
// each component's constructor; there is no package-level instance.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	gormLogLevel := gormlogger.Warn
	if log.Logger.GetLevel() <= 0 { // debug or trace
		gormLogLevel = gormlogger.Info
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(
			stlog.New(log.Logger, "", 0),
			gormlogger.Config{
				LogLevel:                  gormLogLevel,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := gdb.AutoMigrate(
		&models.Agent{},
		&models.WhatsAppNumber{},
		&models.Conversation{},
		&models.Message{},
		&models.KnowledgeFile{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("Database connection established")
	return gdb, nil
}
