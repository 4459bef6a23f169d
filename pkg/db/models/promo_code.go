package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// PromoCode holds the policy for one discount code. Codes are stored upper-case.
type PromoCode struct {
	Code             string          `gorm:"column:code;primaryKey"`
	Kind             enums.PromoKind `gorm:"column:kind;not null"`
	PercentOff       decimal.Decimal `gorm:"column:percent_off;type:numeric(5,2);not null"`
	AmountOffCents   int64           `gorm:"column:amount_off_cents;not null"`
	MaxDiscountCents *int64          `gorm:"column:max_discount_cents"`
	MinOrderCents    int64           `gorm:"column:min_order_cents;not null"`
	UsageLimit       *int            `gorm:"column:usage_limit"`
	UsageCount       int             `gorm:"column:usage_count;not null"`
	OncePerAccount   bool            `gorm:"column:once_per_account;not null"`
	IsActive         bool            `gorm:"column:is_active;not null"`
	StartsAt         time.Time       `gorm:"column:starts_at;not null"`
	EndsAt           *time.Time      `gorm:"column:ends_at"`
	Description      *string         `gorm:"column:description"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// PromoRedemption records a code consumed by an order.
type PromoRedemption struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	Code      string     `gorm:"column:code;not null;index"`
	OrderID   uuid.UUID  `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	UserID    *uuid.UUID `gorm:"column:user_id;type:uuid;index"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (r *PromoRedemption) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}
