package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// CreateOrderInput carries the checkout request. IDs arrive as raw strings
// and are parsed only after the verification claim is held.
type CreateOrderInput struct {
	CartID            string
	AddressID         string
	PromoCode         string
	VerificationToken string
	ClientTotal       *types.Money
	UserID            *uuid.UUID
}

// OrderDTO is the order snapshot returned to clients.
type OrderDTO struct {
	ID                    uuid.UUID         `json:"id"`
	CartID                uuid.UUID         `json:"cart_id"`
	UserID                *uuid.UUID        `json:"user_id,omitempty"`
	AddressID             uuid.UUID         `json:"address_id"`
	Status                enums.OrderStatus `json:"status"`
	Currency              string            `json:"currency"`
	Items                 []OrderItemDTO    `json:"items"`
	Subtotal              types.Money       `json:"subtotal"`
	Discount              types.Money       `json:"discount_amount"`
	Shipping              types.Money       `json:"shipping"`
	VAT                   types.Money       `json:"vat_amount"`
	FinalTotal            types.Money       `json:"final_total"`
	PromoCode             *string           `json:"promo_code,omitempty"`
	PriceConfirmed        bool              `json:"price_confirmed"`
	ConfirmationEmailSent bool              `json:"confirmation_email_sent"`
	CreatedAt             time.Time         `json:"created_at"`
}

// OrderItemDTO is one frozen order line.
type OrderItemDTO struct {
	ProductID uuid.UUID   `json:"product_id"`
	Name      string      `json:"name"`
	UnitPrice types.Money `json:"unit_price"`
	Quantity  int         `json:"quantity"`
	LineTotal types.Money `json:"line_total"`
}

// Confirmation is the message published for the notification worker.
type Confirmation struct {
	OrderID    uuid.UUID          `json:"order_id"`
	UserID     *uuid.UUID         `json:"user_id,omitempty"`
	Currency   string             `json:"currency"`
	FinalTotal types.Money        `json:"final_total"`
	VAT        types.Money        `json:"vat_amount"`
	Items      []OrderItemDTO     `json:"items"`
	Address    ConfirmationTarget `json:"address"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ConfirmationTarget is the delivery destination included in a confirmation.
type ConfirmationTarget struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func toDTO(order *models.Order) *OrderDTO {
	items := make([]OrderItemDTO, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, toItemDTO(item))
	}
	return &OrderDTO{
		ID:                    order.ID,
		CartID:                order.CartID,
		UserID:                order.UserID,
		AddressID:             order.AddressID,
		Status:                order.Status,
		Currency:              order.Currency,
		Items:                 items,
		Subtotal:              types.Money(order.SubtotalCents),
		Discount:              types.Money(order.DiscountCents),
		Shipping:              types.Money(order.ShippingCents),
		VAT:                   types.Money(order.VATCents),
		FinalTotal:            types.Money(order.TotalCents),
		PromoCode:             order.PromoCode,
		PriceConfirmed:        order.PriceConfirmed,
		ConfirmationEmailSent: order.ConfirmationDispatched,
		CreatedAt:             order.CreatedAt.UTC(),
	}
}

func toItemDTO(item models.OrderItem) OrderItemDTO {
	return OrderItemDTO{
		ProductID: item.ProductID,
		Name:      item.ProductName,
		UnitPrice: types.Money(item.UnitPriceCents),
		Quantity:  item.Quantity,
		LineTotal: types.Money(item.LineTotalCents),
	}
}

func buildConfirmation(order *models.Order, addr *models.Address) Confirmation {
	dto := toDTO(order)
	return Confirmation{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Currency:   order.Currency,
		FinalTotal: dto.FinalTotal,
		VAT:        dto.VAT,
		Items:      dto.Items,
		Address: ConfirmationTarget{
			FullName:   addr.FullName,
			Line1:      addr.Line1,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		CreatedAt: dto.CreatedAt,
	}
}
