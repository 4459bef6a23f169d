package migrate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// SeedCatalog inserts the starter catalog and promo codes for schemas built
// from the models. It mirrors the seed_catalog migration and skips rows that
// already exist.
func SeedCatalog(ctx context.Context, conn *gorm.DB) error {
	products := []models.Product{
		{Slug: "p1", Name: "P1", Description: strPtr("Limited run item"), PriceCents: 1000, Stock: 5, IsActive: true},
		{Slug: "turkish-coffee-250g", Name: "Turkish Coffee 250g", Description: strPtr("Finely ground, medium roast"), PriceCents: 18990, Stock: 120, MaxPerOrder: 10, IsActive: true},
		{Slug: "copper-cezve", Name: "Copper Cezve", Description: strPtr("Hand hammered, 350 ml"), PriceCents: 64900, Stock: 25, MaxPerOrder: 2, IsActive: true},
		{Slug: "black-tea-1kg", Name: "Black Tea 1kg", Description: strPtr("Rize black tea"), PriceCents: 24950, Stock: 80, MaxPerOrder: 5, IsActive: true},
	}
	promos := []models.PromoCode{
		{
			Code:        "PROMO20",
			Kind:        enums.PromoKindPercentage,
			PercentOff:  decimal.NewFromInt(20),
			IsActive:    true,
			StartsAt:    time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			Description: strPtr("20% off the whole order"),
		},
	}

	return conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slug"}}, DoNothing: true}).Create(&products).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).Create(&promos).Error
	})
}

func strPtr(v string) *string {
	return &v
}
