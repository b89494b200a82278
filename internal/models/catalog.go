package models

import (
	"time"
)

// Category groups products for listing and filtering
type Category struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"unique;not null"`
	Slug      string    `json:"slug" gorm:"unique;not null"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Category Model
func (Category) TableName() string {
	return "categories"
}

// Product is a sellable catalog item. Prices are stored in cents.
type Product struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SKU         string    `json:"sku" gorm:"column:sku;unique;not null"`
	Name        string    `json:"name" gorm:"not null"`
	Description string    `json:"description"`
	CategoryID  uint      `json:"categoryId" gorm:"column:category_id;index;not null"`
	PriceCents  int64     `json:"priceCents" gorm:"column:price_cents;not null"`
	Stock       int       `json:"stock" gorm:"not null;default:0"`
	Active      bool      `json:"active" gorm:"not null"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName specifies the table name for Product Model
func (Product) TableName() string {
	return "products"
}
