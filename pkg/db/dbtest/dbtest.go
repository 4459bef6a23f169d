// Package dbtest opens isolated in-memory sqlite databases carrying the
// storefront schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Open returns a fresh database private to t. A single connection is used so
// concurrent callers are serialized the way row locks serialize them in Postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := "file:storefront_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// Client wraps Open in a *db.Client for services that need transactions.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}

// ProductSpec describes a product to seed.
type ProductSpec struct {
	Name        string
	PriceCents  int64
	Stock       int
	MaxPerOrder int
	Inactive    bool
}

// SeedProduct inserts a catalog product and returns it.
func SeedProduct(t testing.TB, conn *gorm.DB, spec ProductSpec) *models.Product {
	t.Helper()
	if spec.Name == "" {
		spec.Name = "Product " + uuid.NewString()[:8]
	}
	p := &models.Product{
		Slug:        "p-" + uuid.NewString(),
		Name:        spec.Name,
		PriceCents:  spec.PriceCents,
		Stock:       spec.Stock,
		MaxPerOrder: spec.MaxPerOrder,
		IsActive:    !spec.Inactive,
	}
	if err := conn.Create(p).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return p
}

// SeedAddress inserts an address owned by userID (nil for guests).
func SeedAddress(t testing.TB, conn *gorm.DB, userID *uuid.UUID) *models.Address {
	t.Helper()
	addr := &models.Address{
		UserID:     userID,
		FullName:   "Ada Lovelace",
		Line1:      "Bagdat Cd. 1",
		City:       "Istanbul",
		PostalCode: "34710",
		Country:    "TR",
	}
	if err := conn.Create(addr).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return addr
}
