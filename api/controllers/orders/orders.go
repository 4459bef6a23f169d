package orders

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	ordersvc "github.com/angelmondragon/storefront-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// createOrderRequest is decoded without struct validation: the verification
// claim is checked before any field so an unverified caller learns nothing
// about the rest of the payload.
type createOrderRequest struct {
	CartID            string       `json:"cart_id"`
	AddressID         string       `json:"address_id"`
	PromoCode         string       `json:"promo_code"`
	VerificationToken string       `json:"verification_token"`
	Total             *types.Money `json:"total"`
}

// CreateOrder converts a cart into an order.
func CreateOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil && payload.CartID != "" {
			ctx = logg.WithCartID(ctx, payload.CartID)
		}

		order, err := svc.CreateOrder(ctx, ordersvc.CreateOrderInput{
			CartID:            payload.CartID,
			AddressID:         payload.AddressID,
			PromoCode:         payload.PromoCode,
			VerificationToken: payload.VerificationToken,
			ClientTotal:       payload.Total,
			UserID:            middleware.UserUUIDFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusCreated, order)
	}
}

// GetOrder returns an order snapshot. Orders owned by another account read
// as missing.
func GetOrder(svc ordersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "order service unavailable"))
			return
		}

		orderID, err := validators.ParseUUIDParam(r, "orderID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.GetOrder(ctx, orderID, middleware.UserUUIDFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, order)
	}
}
