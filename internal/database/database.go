package database

import (
	"errors"
	"fmt"

	"catalog-admin-api/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open opens (creating if needed) the SQLite database at path and runs migrations.
// Using glebarez/sqlite which is a pure Go implementation (no CGO required)
func Open(path string, log gormlogger.Interface) (*gorm.DB, error) {
	if log == nil {
		log = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Product{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// EnsureAdmin creates the bootstrap admin account if no user with that name
// exists. passwordHash must already be hashed. It reports whether a user was created.
func EnsureAdmin(db *gorm.DB, username, passwordHash string) (bool, error) {
	var existing models.User
	err := db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("failed to look up admin user: %w", err)
	}

	admin := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         models.RoleAdmin,
	}
	if err := db.Create(&admin).Error; err != nil {
		return false, fmt.Errorf("failed to create admin user: %w", err)
	}
	return true, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
