package promo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Rule is the discount policy behind one code.
type Rule struct {
	Code           string
	Kind           enums.PromoKind
	PercentOff     decimal.Decimal
	AmountOff      types.Money
	MaxDiscount    *types.Money
	MinOrder       types.Money
	UsageLimit     *int
	UsageCount     int
	OncePerAccount bool
	Active         bool
	StartsAt       time.Time
	EndsAt         *time.Time
}

// RuleFromModel maps the persisted promo code onto a Rule.
func RuleFromModel(m models.PromoCode) Rule {
	rule := Rule{
		Code:           m.Code,
		Kind:           m.Kind,
		PercentOff:     m.PercentOff,
		AmountOff:      types.Money(m.AmountOffCents),
		MinOrder:       types.Money(m.MinOrderCents),
		UsageLimit:     m.UsageLimit,
		UsageCount:     m.UsageCount,
		OncePerAccount: m.OncePerAccount,
		Active:         m.IsActive,
		StartsAt:       m.StartsAt,
		EndsAt:         m.EndsAt,
	}
	if m.MaxDiscountCents != nil {
		capped := types.Money(*m.MaxDiscountCents)
		rule.MaxDiscount = &capped
	}
	return rule
}

// Evaluate computes the discount rule grants on subtotal at now. It never
// touches storage. The result is clamped to [0, subtotal+shipping].
func Evaluate(rule Rule, subtotal, shipping types.Money, now time.Time) (types.Money, error) {
	if !rule.Active || now.Before(rule.StartsAt) {
		return 0, pkgerrors.New(pkgerrors.CodePromoNotApplicable, "promo code is not active yet")
	}
	if rule.EndsAt != nil && now.After(*rule.EndsAt) {
		return 0, pkgerrors.New(pkgerrors.CodePromoExpired, "promo code has expired")
	}
	if rule.UsageLimit != nil && rule.UsageCount >= *rule.UsageLimit {
		return 0, pkgerrors.New(pkgerrors.CodePromoNotApplicable, "promo code usage limit reached")
	}
	if subtotal < rule.MinOrder {
		return 0, pkgerrors.New(pkgerrors.CodePromoNotApplicable, fmt.Sprintf("minimum order amount is %s", rule.MinOrder)).
			WithDetails(map[string]any{"min_order": rule.MinOrder})
	}

	var discount types.Money
	switch rule.Kind {
	case enums.PromoKindPercentage:
		discount = subtotal.Percent(rule.PercentOff)
		if rule.MaxDiscount != nil && discount > *rule.MaxDiscount {
			discount = *rule.MaxDiscount
		}
	case enums.PromoKindFixed:
		discount = rule.AmountOff
	case enums.PromoKindFreeShipping:
		discount = shipping
	default:
		return 0, pkgerrors.New(pkgerrors.CodePromoNotApplicable, "promo code cannot be applied")
	}

	return discount.Clamp(0, subtotal+shipping), nil
}
