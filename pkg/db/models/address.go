package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Address is a shipping destination owned by an account (or a guest when UserID is nil).
type Address struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID     *uuid.UUID `gorm:"column:user_id;type:uuid;index"`
	FullName   string     `gorm:"column:full_name;not null"`
	Phone      *string    `gorm:"column:phone"`
	Line1      string     `gorm:"column:line1;not null"`
	Line2      *string    `gorm:"column:line2"`
	District   *string    `gorm:"column:district"`
	City       string     `gorm:"column:city;not null"`
	PostalCode string     `gorm:"column:postal_code;not null"`
	Country    string     `gorm:"column:country;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Address) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
