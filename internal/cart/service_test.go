package cart

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	svc, err := NewService(client, NewRepository(conn), product.NewRepository(conn), config.CheckoutConfig{Currency: "TRY"}, nil)
	require.NoError(t, err)
	return svc, conn
}

func TestAddItemCreatesCartOnFirstAdd(t *testing.T) {
	svc, conn := newTestService(t)
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "Tea", PriceCents: 8000, Stock: 5})

	view, err := svc.AddItem(context.Background(), nil, p.ID, 2)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, view.ID)
	assert.Equal(t, enums.CartStatusActive, view.Status)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)
	assert.Equal(t, "160.00", view.Subtotal.String())
	assert.Equal(t, 2, view.ItemCount)
}

func TestAddItemStockCeilingKeepsQuantity(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p1 := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "P1", PriceCents: 1000, Stock: 5})

	view, err := svc.AddItem(ctx, nil, p1.ID, 1)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, &view.ID, p1.ID, 20)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStockExceeded, pkgerrors.CodeOf(err))
	assert.Equal(t, 422, pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).HTTPStatus)

	after, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, after.Items, 1)
	assert.Equal(t, 1, after.Items[0].Quantity)
}

func TestAddItemChecksSummedQuantity(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})

	view, err := svc.AddItem(ctx, nil, p.ID, 3)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, &view.ID, p.ID, 3)
	assert.Equal(t, pkgerrors.CodeStockExceeded, pkgerrors.CodeOf(err))

	merged, err := svc.AddItem(ctx, &view.ID, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, 5, merged.Items[0].Quantity)
}

func TestAddItemPerOrderLimit(t *testing.T) {
	svc, conn := newTestService(t)
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 50, MaxPerOrder: 3})

	_, err := svc.AddItem(context.Background(), nil, p.ID, 4)
	assert.Equal(t, pkgerrors.CodeQuantityLimitExceeded, pkgerrors.CodeOf(err))
}

func TestAddItemRejectsBadInput(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	hidden := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5, Inactive: true})

	for _, qty := range []int{0, -1} {
		_, err := svc.AddItem(ctx, nil, p.ID, qty)
		assert.Equal(t, pkgerrors.CodeInvalidQuantity, pkgerrors.CodeOf(err))
	}

	_, err := svc.AddItem(ctx, nil, uuid.New(), 1)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = svc.AddItem(ctx, nil, hidden.ID, 1)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	missing := uuid.New()
	_, err = svc.AddItem(ctx, &missing, p.ID, 1)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	var carts int64
	require.NoError(t, conn.Model(&models.Cart{}).Count(&carts).Error)
	assert.Zero(t, carts, "failed first adds must not leave empty carts behind")
}

func TestCreateCartMergesDuplicates(t *testing.T) {
	svc, conn := newTestService(t)
	a := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "A", PriceCents: 1000, Stock: 5})
	b := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "B", PriceCents: 250, Stock: 5})
	userID := uuid.New()

	view, err := svc.CreateCart(context.Background(), &userID, []LineInput{
		{ProductID: a.ID, Quantity: 1},
		{ProductID: b.ID, Quantity: 2},
		{ProductID: a.ID, Quantity: 2},
	})
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, a.ID, view.Items[0].ProductID)
	assert.Equal(t, 3, view.Items[0].Quantity)
	assert.Equal(t, "35.00", view.Subtotal.String())
}

func TestUpdateQuantity(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	a := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	b := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})

	view, err := svc.AddItem(ctx, nil, a.ID, 1)
	require.NoError(t, err)

	updated, err := svc.UpdateQuantity(ctx, view.ID, a.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Items[0].Quantity)

	_, err = svc.UpdateQuantity(ctx, view.ID, a.ID, 6)
	assert.Equal(t, pkgerrors.CodeStockExceeded, pkgerrors.CodeOf(err))

	_, err = svc.UpdateQuantity(ctx, view.ID, a.ID, -1)
	assert.Equal(t, pkgerrors.CodeInvalidQuantity, pkgerrors.CodeOf(err))

	_, err = svc.UpdateQuantity(ctx, view.ID, b.ID, 1)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	emptied, err := svc.UpdateQuantity(ctx, view.ID, a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, emptied.Items)
	assert.Equal(t, "0.00", emptied.Subtotal.String())
}

func TestRemoveItem(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	a := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})

	view, err := svc.AddItem(ctx, nil, a.ID, 1)
	require.NoError(t, err)

	after, err := svc.RemoveItem(ctx, view.ID, a.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Items)

	_, err = svc.RemoveItem(ctx, view.ID, a.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestGetCartIsStableAndOrdered(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	b := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "B", PriceCents: 1000, Stock: 5})
	a := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "A", PriceCents: 1000, Stock: 5})

	view, err := svc.AddItem(ctx, nil, b.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, &view.ID, a.ID, 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, &view.ID, b.ID, 1)
	require.NoError(t, err)

	first, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	second, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON))

	require.Len(t, first.Items, 2)
	assert.Equal(t, "B", first.Items[0].Name)
	assert.Equal(t, "A", first.Items[1].Name)
}

func TestGetCartUsesCurrentPrices(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})

	view, err := svc.AddItem(ctx, nil, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "20.00", view.Subtotal.String())

	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", p.ID).Update("price_cents", 1250).Error)

	repriced, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", repriced.Subtotal.String())
}

func TestClaimLifecycle(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	view, err := svc.AddItem(ctx, nil, p.ID, 1)
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, claimed.Items, 1)

	_, err = svc.Claim(ctx, view.ID)
	assert.Equal(t, pkgerrors.CodeAlreadyProcessed, pkgerrors.CodeOf(err))

	_, err = svc.AddItem(ctx, &view.ID, p.ID, 1)
	assert.Equal(t, pkgerrors.CodeAlreadyProcessed, pkgerrors.CodeOf(err))

	assert.Equal(t, pkgerrors.CodeAlreadyProcessed, pkgerrors.CodeOf(svc.DeleteCart(ctx, view.ID)))

	require.NoError(t, svc.Release(ctx, view.ID))
	_, err = svc.Claim(ctx, view.ID)
	require.NoError(t, err)

	orderID := uuid.New()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.MarkConverted(ctx, tx, view.ID, orderID)
	}))

	_, err = svc.GetCart(ctx, view.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	_, err = svc.Claim(ctx, view.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = svc.Claim(ctx, uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestClaimReleasesCartWhenCallerCancels(t *testing.T) {
	svc, conn := newTestService(t)
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	view, err := svc.AddItem(context.Background(), nil, p.ID, 1)
	require.NoError(t, err)

	// The claim update goes through; the caller gives up before the cart is read back.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, conn.Callback().Query().Before("gorm:query").Register("test:cancel_caller", func(*gorm.DB) {
		cancel()
	}))

	_, err = svc.Claim(ctx, view.ID)
	require.Error(t, err)
	require.NoError(t, conn.Callback().Query().Remove("test:cancel_caller"))

	_, err = svc.AddItem(context.Background(), &view.ID, p.ID, 1)
	require.NoError(t, err)
	_, err = svc.Claim(context.Background(), view.ID)
	require.NoError(t, err)
}

func TestDeleteCart(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	view, err := svc.AddItem(ctx, nil, p.ID, 1)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCart(ctx, view.ID))

	_, err = svc.GetCart(ctx, view.ID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	var items int64
	require.NoError(t, conn.Model(&models.CartItem{}).Where("cart_id = ?", view.ID).Count(&items).Error)
	assert.Zero(t, items)
}

func TestSetPromoCodeAnnotatesCart(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	view, err := svc.AddItem(ctx, nil, p.ID, 1)
	require.NoError(t, err)

	code := "PROMO20"
	require.NoError(t, svc.SetPromoCode(ctx, view.ID, &code))

	after, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	require.NotNil(t, after.PromoCode)
	assert.Equal(t, "PROMO20", *after.PromoCode)
}

func TestConcurrentAddsNeverExceedStock(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 5})
	view, err := svc.AddItem(ctx, nil, p.ID, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.AddItem(ctx, &view.ID, p.ID, 1)
		}()
	}
	wg.Wait()

	final, err := svc.GetCart(ctx, view.ID)
	require.NoError(t, err)
	require.Len(t, final.Items, 1)
	assert.Equal(t, 5, final.Items[0].Quantity)
}
