package cart

import (
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/validators"
	cartsvc "github.com/angelmondragon/storefront-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const CartIDHeader = "X-Cart-Id"

type lineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type createCartRequest struct {
	Items []lineRequest `json:"items" validate:"dive"`
}

// addItemRequest accepts productId for older clients.
type addItemRequest struct {
	CartID          string `json:"cart_id"`
	ProductID       string `json:"product_id"`
	LegacyProductID string `json:"productId"`
	Quantity        *int   `json:"quantity"`
}

type updateItemRequest struct {
	CartID    string `json:"cart_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type removeItemRequest struct {
	CartID    string `json:"cart_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
}

func (r createCartRequest) toLines() ([]cartsvc.LineInput, error) {
	lines := make([]cartsvc.LineInput, 0, len(r.Items))
	for _, item := range r.Items {
		productID, err := validators.ParseUUID("product_id", item.ProductID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, cartsvc.LineInput{ProductID: productID, Quantity: item.Quantity})
	}
	return lines, nil
}

func (r addItemRequest) productID() (uuid.UUID, error) {
	raw := strings.TrimSpace(r.ProductID)
	if raw == "" {
		raw = strings.TrimSpace(r.LegacyProductID)
	}
	return validators.ParseUUID("product_id", raw)
}

func (r addItemRequest) cartID() (*uuid.UUID, error) {
	if strings.TrimSpace(r.CartID) == "" {
		return nil, nil
	}
	id, err := validators.ParseUUID("cart_id", r.CartID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r addItemRequest) quantity() int {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

func parseIDs(cartRaw, productRaw string) (uuid.UUID, uuid.UUID, error) {
	cartID, err := validators.ParseUUID("cart_id", cartRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	productID, err := validators.ParseUUID("product_id", productRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return cartID, productID, nil
}

func missingCartID() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "cart_id is required").
		WithDetails(map[string]string{"cart_id": "pass as query parameter or " + CartIDHeader + " header"})
}
