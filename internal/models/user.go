package models

import (
	"gorm.io/gorm"
)

// Role is the authorization level of a user
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// User represents an account allowed to sign in to the admin API
type User struct {
	ID           string `json:"id" gorm:"primaryKey"`
	Username     string `json:"username" gorm:"unique;not null"`
	PasswordHash string `json:"-" gorm:"column:password_hash;not null"`
	Role         Role   `json:"role" gorm:"not null;default:'viewer'"`
	gorm.Model
}

// TableName specifies the table name for User Model
func (User) TableName() string {
	return "users"
}
