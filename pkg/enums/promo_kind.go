package enums

import (
	"fmt"
	"strings"
)

// PromoKind selects how a promo code turns a subtotal into a discount.
type PromoKind string

const (
	PromoKindPercentage   PromoKind = "percentage"
	PromoKindFixed        PromoKind = "fixed"
	PromoKindFreeShipping PromoKind = "free_shipping"
)

var validPromoKinds = []PromoKind{
	PromoKindPercentage,
	PromoKindFixed,
	PromoKindFreeShipping,
}

func (k PromoKind) String() string {
	return string(k)
}

func (k PromoKind) IsValid() bool {
	for _, candidate := range validPromoKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePromoKind accepts the canonical values case-insensitively.
func ParsePromoKind(value string) (PromoKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPromoKinds {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid promo kind %q", value)
}
