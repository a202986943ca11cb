package config

import (
	"log"

	"emp-payments-backend/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// InitDB opens the postgres connection or exits.
func InitDB(cfg *Config) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return db
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Upload{},
		&models.ReconcileRecord{},
		&models.Chargeback{},
		&models.BlacklistEntry{},
		&models.RowStatusAudit{},
	)
}
