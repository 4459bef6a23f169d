package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a catalog listing. Stock is the live sellable quantity.
type Product struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Slug        string    `gorm:"column:slug;not null;uniqueIndex"`
	Name        string    `gorm:"column:name;not null"`
	Description *string   `gorm:"column:description"`
	ImageURL    *string   `gorm:"column:image_url"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	Stock       int       `gorm:"column:stock;not null"`
	MaxPerOrder int       `gorm:"column:max_per_order;not null"`
	IsActive    bool      `gorm:"column:is_active;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// Ceiling is the largest quantity of this product a single cart may hold.
func (p Product) Ceiling() int {
	if p.MaxPerOrder > 0 && p.MaxPerOrder < p.Stock {
		return p.MaxPerOrder
	}
	return p.Stock
}
