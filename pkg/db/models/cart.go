package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Cart is a shopper's mutable basket. It is retired (converted) once an
// order has been created from it.
type Cart struct {
	ID          uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID      *uuid.UUID       `gorm:"column:user_id;type:uuid"`
	Status      enums.CartStatus `gorm:"column:status;not null"`
	PromoCode   *string          `gorm:"column:promo_code"`
	OrderID     *uuid.UUID       `gorm:"column:order_id;type:uuid"`
	ConvertedAt *time.Time       `gorm:"column:converted_at"`
	Items       []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	if c.Status == "" {
		c.Status = enums.CartStatusActive
	}
	return nil
}

// CartItem is one product line. Position preserves insertion order.
type CartItem struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CartID    uuid.UUID `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:idx_cart_items_cart_product"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_cart_items_cart_product"`
	Quantity  int       `gorm:"column:quantity;not null"`
	Position  int       `gorm:"column:position;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
