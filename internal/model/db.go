package model

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Table{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&Field{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&Reference{}); err != nil {
		return err
	}

	return nil
}
