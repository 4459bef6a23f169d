package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestMigrationsContainExpectedStatements(t *testing.T) {
	cases := map[string][]string{
		"create_products": {
			"CREATE TABLE IF NOT EXISTS products",
			"CHECK (stock >= 0)",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_products_slug",
		},
		"create_carts": {
			"CREATE TABLE IF NOT EXISTS cart_items",
			"FOREIGN KEY (cart_id) REFERENCES carts(id) ON DELETE CASCADE",
			"CHECK (quantity > 0)",
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_items_cart_product",
		},
		"create_promo_codes": {
			"CHECK (code = upper(code))",
			"CHECK (usage_limit IS NULL OR usage_count <= usage_limit)",
			"DROP TABLE IF EXISTS promo_codes",
		},
		"create_orders": {
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_cart_id",
			"CHECK (total_cents = subtotal_cents + shipping_cents - discount_cents)",
			"DROP TABLE IF EXISTS orders",
		},
		"seed_catalog": {
			"'PROMO20', 'percentage', 20",
			"('p1', 'P1', 'Limited run item', 1000, 5, 0)",
		},
	}

	for suffix, checks := range cases {
		content := readMigration(t, suffix)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s: missing expected statement %q", suffix, sub)
			}
		}
	}
}

func TestValidateDirAcceptsRepositoryMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Order Notes!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_order_notes.sql") {
		t.Fatalf("unexpected filename %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("validate created migration: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_bad.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename error")
	}
}

func TestSeedCatalogIsRepeatable(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()

	require.NoError(t, migrate.SeedCatalog(ctx, conn))
	require.NoError(t, migrate.SeedCatalog(ctx, conn))

	var p1 models.Product
	require.NoError(t, conn.Where("slug = ?", "p1").First(&p1).Error)
	assert.Equal(t, 5, p1.Stock)
	assert.True(t, p1.IsActive)

	var count int64
	require.NoError(t, conn.Model(&models.Product{}).Count(&count).Error)
	assert.EqualValues(t, 4, count)

	var promo models.PromoCode
	require.NoError(t, conn.Where("code = ?", "PROMO20").First(&promo).Error)
	assert.Equal(t, enums.PromoKindPercentage, promo.Kind)
	assert.True(t, promo.PercentOff.Equal(decimal.NewFromInt(20)))
}
