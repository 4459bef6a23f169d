package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/promo"
	"github.com/angelmondragon/storefront-backend/internal/verification"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type fakeClaim struct {
	mu        sync.Mutex
	committed int
	released  int
}

func (c *fakeClaim) Token() string { return "token" }

func (c *fakeClaim) Commit(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed++
	return nil
}

func (c *fakeClaim) Release(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.released++
	return nil
}

type fakeGate struct {
	mu     sync.Mutex
	deny   bool
	calls  int
	claims []*fakeClaim
}

func (g *fakeGate) Claim(_ context.Context, action enums.VerificationAction, _ string) (verification.Claim, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.deny || action != enums.VerificationActionCreateOrder {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationRequired, "complete the verification")
	}
	c := &fakeClaim{}
	g.claims = append(g.claims, c)
	return c, nil
}

func (g *fakeGate) last() *fakeClaim {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.claims[len(g.claims)-1]
}

type fakeDispatcher struct {
	mu   sync.Mutex
	err  error
	sent []Confirmation
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, confirmation Confirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("dispatch without deadline")
	}
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, confirmation)
	return nil
}

type fixture struct {
	conn       *gorm.DB
	carts      cart.Service
	gate       *fakeGate
	dispatcher *fakeDispatcher
	registry   *prometheus.Registry
	orders     Service
}

// cancellingResolver cancels the caller's context once the cart is claimed
// and then resolves the address as usual.
type cancellingResolver struct {
	next   addressResolver
	cancel context.CancelFunc
}

func (r cancellingResolver) Resolve(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.Address, error) {
	r.cancel()
	return r.next.Resolve(ctx, id, userID)
}

// flakyRepository fails the first failures MarkDispatched calls.
type flakyRepository struct {
	Repository
	mu       sync.Mutex
	failures int
}

func (r *flakyRepository) MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return false, errors.New("connection reset")
	}
	r.mu.Unlock()
	return r.Repository.MarkDispatched(ctx, id, at)
}

func newFixture(t *testing.T, opts ...func(*ServiceParams)) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	checkout := config.CheckoutConfig{Currency: "TRY", VATRatePercent: 20}

	products := product.NewRepository(conn)
	carts, err := cart.NewService(client, cart.NewRepository(conn), products, checkout, nil)
	require.NoError(t, err)
	promos, err := promo.NewService(promo.NewRepository(conn), carts, checkout, nil)
	require.NoError(t, err)
	addresses, err := address.NewService(address.NewRepository(conn))
	require.NoError(t, err)

	f := &fixture{
		conn:       conn,
		carts:      carts,
		gate:       &fakeGate{},
		dispatcher: &fakeDispatcher{},
		registry:   prometheus.NewRegistry(),
	}
	params := ServiceParams{
		Tx:         client,
		Repo:       NewRepository(conn),
		Products:   products,
		Carts:      carts,
		Addresses:  addresses,
		Promos:     promos,
		Gate:       f.gate,
		Dispatcher: f.dispatcher,
		Checkout:   checkout,
		Metrics:    metrics.NewCheckoutMetrics(f.registry),
	}
	for _, opt := range opts {
		opt(&params)
	}
	f.orders, err = NewService(params)
	require.NoError(t, err)
	return f
}

func (f *fixture) cartWith(t *testing.T, p *models.Product, qty int) uuid.UUID {
	t.Helper()
	view, err := f.carts.AddItem(context.Background(), nil, p.ID, qty)
	require.NoError(t, err)
	return view.ID
}

func (f *fixture) input(cartID uuid.UUID, addr *models.Address) CreateOrderInput {
	return CreateOrderInput{
		CartID:            cartID.String(),
		AddressID:         addr.ID.String(),
		VerificationToken: uuid.NewString(),
	}
}

func (f *fixture) orderCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&n).Error)
	return n
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if matchesLabel(metric, label, value) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchesLabel(metric *dto.Metric, label, value string) bool {
	if label == "" {
		return true
	}
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == label && pair.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCreateOrderAppliesPromoToFinalTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{Name: "Kettle", PriceCents: 10000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	require.NoError(t, f.conn.Create(&models.PromoCode{
		Code:       "PROMO20",
		Kind:       enums.PromoKindPercentage,
		PercentOff: decimal.NewFromInt(20),
		IsActive:   true,
		StartsAt:   time.Now().Add(-time.Hour),
	}).Error)

	cartID := f.cartWith(t, p, 1)
	in := f.input(cartID, addr)
	in.PromoCode = "promo20"

	order, err := f.orders.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.True(t, order.PriceConfirmed)
	assert.Equal(t, "100.00", order.Subtotal.String())
	assert.Equal(t, "20.00", order.Discount.String())
	assert.Equal(t, "80.00", order.FinalTotal.String())
	assert.Equal(t, order.Subtotal-order.Discount, order.FinalTotal)
	assert.Equal(t, "13.33", order.VAT.String())
	require.NotNil(t, order.PromoCode)
	assert.Equal(t, "PROMO20", *order.PromoCode)
	assert.True(t, order.ConfirmationEmailSent)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Kettle", order.Items[0].Name)

	var stored models.Product
	require.NoError(t, f.conn.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, 2, stored.Stock)

	var promoRow models.PromoCode
	require.NoError(t, f.conn.First(&promoRow, "code = ?", "PROMO20").Error)
	assert.Equal(t, 1, promoRow.UsageCount)

	_, err = f.carts.GetCart(ctx, cartID)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	claim := f.gate.last()
	assert.Equal(t, 1, claim.committed)
	assert.Equal(t, 0, claim.released)

	require.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, order.ID, f.dispatcher.sent[0].OrderID)
	assert.Equal(t, float64(1), counterValue(t, f.registry, "storefront_orders_created_total", "", ""))
	assert.Equal(t, float64(1), counterValue(t, f.registry, "storefront_order_confirmations_total", "result", "sent"))

	stored2, err := f.orders.GetOrder(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.True(t, stored2.ConfirmationEmailSent)
	assert.Equal(t, order.FinalTotal, stored2.FinalTotal)
}

func TestCreateOrderUsesAnnotatedPromoCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 5000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	amount := int64(1000)
	require.NoError(t, f.conn.Create(&models.PromoCode{
		Code:           "TENOFF",
		Kind:           enums.PromoKindFixed,
		AmountOffCents: amount,
		IsActive:       true,
		StartsAt:       time.Now().Add(-time.Hour),
	}).Error)

	cartID := f.cartWith(t, p, 1)
	code := "TENOFF"
	require.NoError(t, f.carts.SetPromoCode(ctx, cartID, &code))

	order, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
	require.NoError(t, err)
	assert.Equal(t, "40.00", order.FinalTotal.String())
}

func TestCreateOrderIgnoresClientTotal(t *testing.T) {
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 10000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	cartID := f.cartWith(t, p, 1)

	in := f.input(cartID, addr)
	tampered := types.Money(100)
	in.ClientTotal = &tampered

	order, err := f.orders.CreateOrder(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "100.00", order.FinalTotal.String())
	assert.True(t, order.PriceConfirmed)
}

func TestCreateOrderRequiresVerificationFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 10000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	cartID := f.cartWith(t, p, 1)
	f.gate.deny = true

	_, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeVerificationRequired, pkgerrors.CodeOf(err))
	assert.Equal(t, int64(0), f.orderCount(t))

	view, err := f.carts.GetCart(ctx, cartID)
	require.NoError(t, err)
	assert.Equal(t, enums.CartStatusActive, view.Status)
	assert.Equal(t, float64(1), counterValue(t, f.registry, "storefront_orders_rejected_total", "code", string(pkgerrors.CodeVerificationRequired)))
}

func TestCreateOrderReleasesClaimsOnStockFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 10000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	cartID := f.cartWith(t, p, 2)
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", p.ID).Update("stock", 1).Error)

	_, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStockExceeded, pkgerrors.CodeOf(err))
	assert.Equal(t, int64(0), f.orderCount(t))

	view, err := f.carts.GetCart(ctx, cartID)
	require.NoError(t, err)
	assert.Equal(t, enums.CartStatusActive, view.Status)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 2, view.Items[0].Quantity)

	claim := f.gate.last()
	assert.Equal(t, 1, claim.released)
	assert.Equal(t, 0, claim.committed)
}

func TestCreateOrderReleasesCartWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixture(t, func(p *ServiceParams) {
		p.Addresses = cancellingResolver{next: p.Addresses, cancel: cancel}
	})
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	cartID := f.cartWith(t, p, 1)

	_, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
	require.Error(t, err)
	assert.Equal(t, int64(0), f.orderCount(t))
	assert.Equal(t, 1, f.gate.last().released)

	view, err := f.carts.GetCart(context.Background(), cartID)
	require.NoError(t, err)
	assert.Equal(t, enums.CartStatusActive, view.Status)

	_, err = f.carts.AddItem(context.Background(), &cartID, p.ID, 1)
	require.NoError(t, err)

	order, err := f.orders.CreateOrder(context.Background(), f.input(cartID, addr))
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
}

func TestCreateOrderKeepsCartLineOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{Name: "Cezve", PriceCents: 1000, Stock: 3})
	second := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{Name: "Tea", PriceCents: 2000, Stock: 3})
	third := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{Name: "Coffee", PriceCents: 3000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)

	cartID := f.cartWith(t, first, 1)
	for _, p := range []*models.Product{second, third} {
		_, err := f.carts.AddItem(ctx, &cartID, p.ID, 1)
		require.NoError(t, err)
	}

	order, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
	require.NoError(t, err)
	require.Len(t, order.Items, 3)
	assert.Equal(t, []string{"Cezve", "Tea", "Coffee"}, []string{order.Items[0].Name, order.Items[1].Name, order.Items[2].Name})

	stored, err := f.orders.GetOrder(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, order.Items, stored.Items)
}

func TestLockOrderSortsByProductID(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	b := uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	c := uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	lines := []models.CartItem{{ProductID: c}, {ProductID: a}, {ProductID: b}}

	assert.Equal(t, []int{1, 2, 0}, lockOrder(lines))
}

func TestCreateOrderRejectsInapplicablePromo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	require.NoError(t, f.conn.Create(&models.PromoCode{
		Code:          "BIGSPEND",
		Kind:          enums.PromoKindFixed,
		MinOrderCents: 50000,
		IsActive:      true,
		StartsAt:      time.Now().Add(-time.Hour),
	}).Error)
	cartID := f.cartWith(t, p, 1)

	in := f.input(cartID, addr)
	in.PromoCode = "BIGSPEND"
	_, err := f.orders.CreateOrder(ctx, in)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodePromoNotApplicable, pkgerrors.CodeOf(err))

	var stored models.Product
	require.NoError(t, f.conn.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, 3, stored.Stock)
	assert.Equal(t, 1, f.gate.last().released)
}

func TestCreateOrderValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addr := dbtest.SeedAddress(t, f.conn, nil)

	_, err := f.orders.CreateOrder(ctx, CreateOrderInput{
		CartID:            "not-a-uuid",
		AddressID:         addr.ID.String(),
		VerificationToken: uuid.NewString(),
	})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Equal(t, 1, f.gate.last().released)

	_, err = f.orders.CreateOrder(ctx, f.input(uuid.New(), addr))
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	empty, err := f.carts.CreateCart(ctx, nil, nil)
	require.NoError(t, err)
	_, err = f.orders.CreateOrder(ctx, f.input(empty.ID, addr))
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	view, err := f.carts.GetCart(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.CartStatusActive, view.Status)
}

func TestCreateOrderHidesForeignAddress(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	caller := uuid.New()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, &owner)
	cartID := f.cartWith(t, p, 1)

	in := f.input(cartID, addr)
	in.UserID = &caller
	_, err := f.orders.CreateOrder(context.Background(), in)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Equal(t, int64(0), f.orderCount(t))
}

func TestCreateOrderSurvivesDispatchFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	cartID := f.cartWith(t, p, 1)
	f.dispatcher.err = context.DeadlineExceeded

	order, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
	require.NoError(t, err)
	assert.False(t, order.ConfirmationEmailSent)
	assert.Equal(t, 1, f.gate.last().committed)
	assert.Equal(t, float64(1), counterValue(t, f.registry, "storefront_order_confirmations_total", "result", "failed"))

	stored, err := f.orders.GetOrder(ctx, order.ID, nil)
	require.NoError(t, err)
	assert.False(t, stored.ConfirmationEmailSent)
}

func TestCreateOrderRetriesConfirmationFlag(t *testing.T) {
	for _, tc := range []struct {
		name     string
		failures int
		want     bool
	}{
		{name: "recovers on retry", failures: 1, want: true},
		{name: "reports stored flag", failures: 2, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(p *ServiceParams) {
				p.Repo = &flakyRepository{Repository: p.Repo, failures: tc.failures}
			})
			ctx := context.Background()
			p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 3})
			addr := dbtest.SeedAddress(t, f.conn, nil)
			cartID := f.cartWith(t, p, 1)

			order, err := f.orders.CreateOrder(ctx, f.input(cartID, addr))
			require.NoError(t, err)
			assert.Equal(t, tc.want, order.ConfirmationEmailSent)
			assert.Equal(t, float64(1), counterValue(t, f.registry, "storefront_order_confirmations_total", "result", "sent"))

			stored, err := f.orders.GetOrder(ctx, order.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, order.ConfirmationEmailSent, stored.ConfirmationEmailSent)
		})
	}
}

func TestConcurrentCreateOrderProducesOneOrder(t *testing.T) {
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 10})
	addr := dbtest.SeedAddress(t, f.conn, nil)
	cartID := f.cartWith(t, p, 2)

	const attempts = 2
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		successes int
		mu        sync.Mutex
		codes     []pkgerrors.Code
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.orders.CreateOrder(context.Background(), f.input(cartID, addr))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			codes = append(codes, pkgerrors.CodeOf(err))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, codes, attempts-1)
	assert.Contains(t, []pkgerrors.Code{pkgerrors.CodeAlreadyProcessed, pkgerrors.CodeNotFound}, codes[0])
	assert.Equal(t, int64(1), f.orderCount(t))

	var stored models.Product
	require.NoError(t, f.conn.First(&stored, "id = ?", p.ID).Error)
	assert.Equal(t, 8, stored.Stock)
}

func TestGetOrderHidesOtherAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	p := dbtest.SeedProduct(t, f.conn, dbtest.ProductSpec{PriceCents: 1000, Stock: 3})
	addr := dbtest.SeedAddress(t, f.conn, &owner)
	cartID := f.cartWith(t, p, 1)

	in := f.input(cartID, addr)
	in.UserID = &owner
	order, err := f.orders.CreateOrder(ctx, in)
	require.NoError(t, err)

	_, err = f.orders.GetOrder(ctx, order.ID, &owner)
	require.NoError(t, err)

	stranger := uuid.New()
	_, err = f.orders.GetOrder(ctx, order.ID, &stranger)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))

	_, err = f.orders.GetOrder(ctx, uuid.New(), nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
