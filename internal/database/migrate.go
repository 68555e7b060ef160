package database

import (
	"fmt"
	"log"

	"RentChain/internal/models"
)

func Migrate() error {
	log.Println("Running database migrations...")

	err := DB.AutoMigrate(
		&models.User{},
		&models.Item{},
		&models.ItemChainID{},
		&models.Contract{},
		&models.Payment{},
		&models.Dispute{},
		&models.ContractHistory{},
		&models.Notification{},
	)

	if err != nil {
		log.Printf("Error migrating database: %v", err)
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Println("Database migration completed successfully")
	return nil
}
