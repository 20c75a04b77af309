package model

import "gorm.io/gorm"

// InstallDB creates or migrates the tables of the server.
func InstallDB(db *gorm.DB) error {
	return db.AutoMigrate(
		&Chat{},
		&ChatMessage{},
		&Post{})
}
