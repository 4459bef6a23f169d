package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/verification"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Repository defines persistence operations for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// Dispatcher hands a confirmed order to the delivery transport. A nil error
// means the transport accepted the message.
type Dispatcher interface {
	Dispatch(ctx context.Context, confirmation Confirmation) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type verificationGate interface {
	Claim(ctx context.Context, action enums.VerificationAction, token string) (verification.Claim, error)
}

type cartClaimer interface {
	Claim(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	Release(ctx context.Context, cartID uuid.UUID) error
	MarkConverted(ctx context.Context, tx *gorm.DB, cartID, orderID uuid.UUID) error
}

type addressResolver interface {
	Resolve(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.Address, error)
}

type promoPricer interface {
	Quote(ctx context.Context, tx *gorm.DB, code string, userID *uuid.UUID, subtotal, shipping types.Money) (types.Money, error)
	Redeem(ctx context.Context, tx *gorm.DB, code string, orderID uuid.UUID, userID *uuid.UUID) error
}
