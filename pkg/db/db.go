package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the sqlite database at path and runs migrations.
func Open(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := AutoMigrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// AutoMigrate creates the chat pipeline tables.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&Conversation{}, &Message{}, &IdempotencyRecord{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
