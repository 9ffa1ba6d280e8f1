package db

import (
	"errors"
	"fmt"

	"github.com/diewo77/invoicing/internal/models"
	"gorm.io/gorm"
)

// Models lists every persisted model in dependency order.
func Models() []any {
	return []any{
		&models.User{},
		&models.Client{},
		&models.Invoice{},
		&models.Webhook{},
		&models.AuditLog{},
		&models.ProcessorEvent{},
	}
}

// Migrate runs AutoMigrate for all models.
// Call this at application startup or as part of a migration step.
func Migrate(db *gorm.DB) error {
	for _, m := range Models() {
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	return nil
}

// SeedDevOwner makes sure a demo owner exists for local development and
// returns it. Safe to call repeatedly.
func SeedDevOwner(db *gorm.DB) (models.User, error) {
	var u models.User
	err := db.Where("email = ?", "owner@example.com").First(&u).Error
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return u, err
	}
	u = models.User{Email: "owner@example.com", Name: "Demo Owner"}
	if err := db.Create(&u).Error; err != nil {
		return u, fmt.Errorf("seed dev owner: %w", err)
	}
	return u, nil
}
