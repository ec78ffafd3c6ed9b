package db

import (
	"fmt"

	"github.com/gptproxy/gptproxy/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all managed tables.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(&models.Key{}); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
