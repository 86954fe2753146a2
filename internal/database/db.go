package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/applyflow/autofill-service/internal/models"
)

// Connect opens the Postgres connection and migrates the schema.
func Connect(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("database: connect: %w", err)
	}

	if err := db.AutoMigrate(&models.User{}, &models.FieldRecord{}, &models.OutboxEntry{}); err != nil {
		return nil, fmt.Errorf("database: migrate: %w", err)
	}
	return db, nil
}
