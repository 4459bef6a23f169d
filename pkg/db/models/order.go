package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Order is the immutable priced snapshot produced from a cart.
type Order struct {
	ID                     uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CartID                 uuid.UUID         `gorm:"column:cart_id;type:uuid;not null;uniqueIndex"`
	UserID                 *uuid.UUID        `gorm:"column:user_id;type:uuid;index"`
	AddressID              uuid.UUID         `gorm:"column:address_id;type:uuid;not null"`
	PromoCode              *string           `gorm:"column:promo_code"`
	Currency               string            `gorm:"column:currency;not null"`
	SubtotalCents          int64             `gorm:"column:subtotal_cents;not null"`
	DiscountCents          int64             `gorm:"column:discount_cents;not null"`
	ShippingCents          int64             `gorm:"column:shipping_cents;not null"`
	VATCents               int64             `gorm:"column:vat_cents;not null"`
	TotalCents             int64             `gorm:"column:total_cents;not null"`
	PriceConfirmed         bool              `gorm:"column:price_confirmed;not null"`
	ConfirmationDispatched bool              `gorm:"column:confirmation_dispatched;not null"`
	DispatchedAt           *time.Time        `gorm:"column:dispatched_at"`
	Status                 enums.OrderStatus `gorm:"column:status;not null"`
	Items                  []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt              time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	if o.Status == "" {
		o.Status = enums.OrderStatusConfirmed
	}
	return nil
}

// OrderItem is a line frozen at confirmation time.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	ProductName    string    `gorm:"column:product_name;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Quantity       int       `gorm:"column:quantity;not null"`
	LineTotalCents int64     `gorm:"column:line_total_cents;not null"`
	Position       int       `gorm:"column:position;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
