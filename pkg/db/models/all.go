package models

// All lists every persisted model, parents first. Used by sqlite-backed
// tests and local dev schemas.
func All() []any {
	return []any{
		&User{},
		&Product{},
		&Address{},
		&Cart{},
		&CartItem{},
		&PromoCode{},
		&Order{},
		&OrderItem{},
		&PromoRedemption{},
	}
}
