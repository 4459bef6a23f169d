package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/promo"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type applyPromoRequest struct {
	CartID    string `json:"cart_id" validate:"required"`
	PromoCode string `json:"promo_code" validate:"required,max=64"`
}

// PromoApply validates a code against a cart. An inapplicable code is a 200
// with valid=false; only malformed requests and unknown carts are errors.
func PromoApply(svc promo.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "promo service unavailable"))
			return
		}

		var payload applyPromoRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		cartID, err := validators.ParseUUID("cart_id", payload.CartID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithCartID(ctx, cartID.String())
		}

		result, err := svc.Apply(ctx, promo.ApplyInput{
			CartID: cartID,
			Code:   strings.TrimSpace(payload.PromoCode),
			UserID: middleware.UserUUIDFromContext(ctx),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, result)
	}
}
