package database

import (
	"examdesk_backend/internal/config"
	"examdesk_backend/internal/model"
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	return db, nil
}

// Migrate runs schema migration and first-install seeding. Callers gate it:
// it runs on every debug-mode start but in release mode only when forced.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Subject{},
		&model.Topic{},
		&model.Test{},
		&model.Question{},
		&model.QuestionOption{},
		&model.TestAttempt{},
		&model.AttemptAnswer{},
		&model.Violation{},
	)

	if err != nil {
		return err
	}

	log.Println("Database migration completed")

	// Seed a default subject so a fresh install can publish a test right away.
	var count int64
	db.Model(&model.Subject{}).Count(&count)
	if count == 0 {
		db.Create(&model.Subject{Name: "General Knowledge", Description: "Default subject", Enabled: true})
	}

	return nil
}
