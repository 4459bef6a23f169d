package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	dispatchSent     = "sent"
	dispatchFailed   = "failed"
	dispatchDisabled = "disabled"

	defaultPublishTimeout = 3 * time.Second
	releaseTimeout        = 5 * time.Second
)

// Service turns a claimed cart into an order.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderDTO, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, userID *uuid.UUID) (*OrderDTO, error)
}

// ServiceParams groups the collaborators of the order pipeline.
type ServiceParams struct {
	Tx             txRunner
	Repo           Repository
	Products       *product.Repository
	Carts          cartClaimer
	Addresses      addressResolver
	Promos         promoPricer
	Gate           verificationGate
	Dispatcher     Dispatcher
	Checkout       config.CheckoutConfig
	PublishTimeout time.Duration
	Metrics        *metrics.CheckoutMetrics
	Logger         *logger.Logger
}

type service struct {
	tx             txRunner
	repo           Repository
	products       *product.Repository
	carts          cartClaimer
	addresses      addressResolver
	promos         promoPricer
	gate           verificationGate
	dispatcher     Dispatcher
	currency       string
	shipping       types.Money
	vatRate        int64
	publishTimeout time.Duration
	metrics        *metrics.CheckoutMetrics
	logg           *logger.Logger
	now            func() time.Time
}

// NewService builds the order pipeline. A nil Dispatcher disables
// confirmations; orders still succeed with confirmation_email_sent=false.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Addresses == nil {
		return nil, fmt.Errorf("address service required")
	}
	if params.Promos == nil {
		return nil, fmt.Errorf("promo service required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("verification gate required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	currency := strings.TrimSpace(params.Checkout.Currency)
	if currency == "" {
		currency = "TRY"
	}
	return &service{
		tx:             params.Tx,
		repo:           params.Repo,
		products:       params.Products,
		carts:          params.Carts,
		addresses:      params.Addresses,
		promos:         params.Promos,
		gate:           params.Gate,
		dispatcher:     params.Dispatcher,
		currency:       currency,
		shipping:       types.Money(params.Checkout.ShippingFeeCents),
		vatRate:        params.Checkout.VATRatePercent,
		publishTimeout: timeout,
		metrics:        params.Metrics,
		logg:           logg,
		now:            time.Now,
	}, nil
}

// CreateOrder runs the checkout pipeline. The verification claim is taken
// before any cart or address is read, and both claims are handed back when
// the order is not created.
func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderDTO, error) {
	started := s.now()

	claim, err := s.gate.Claim(ctx, enums.VerificationActionCreateOrder, input.VerificationToken)
	if err != nil {
		s.metrics.ObserveRejected(string(pkgerrors.CodeOf(err)), s.now().Sub(started))
		return nil, err
	}

	order, addr, err := s.placeOrder(ctx, input)
	if err != nil {
		releaseCtx, cancel := detached(ctx, releaseTimeout)
		if releaseErr := claim.Release(releaseCtx); releaseErr != nil {
			s.logg.Error(ctx, "release verification claim", releaseErr)
		}
		cancel()
		s.metrics.ObserveRejected(string(pkgerrors.CodeOf(err)), s.now().Sub(started))
		return nil, err
	}

	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	commitCtx, cancel := detached(ctx, releaseTimeout)
	if err := claim.Commit(commitCtx); err != nil {
		// The order exists; a stale claim expires on its own.
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "commit verification claim after order")
	}
	cancel()

	order.ConfirmationDispatched = s.dispatch(ctx, order, addr)
	s.metrics.ObserveCreated(s.now().Sub(started))
	s.logg.Info(ctx, "order created")

	return toDTO(order), nil
}

func (s *service) placeOrder(ctx context.Context, input CreateOrderInput) (*models.Order, *models.Address, error) {
	cartID, err := parseID("cart_id", input.CartID)
	if err != nil {
		return nil, nil, err
	}
	addressID, err := parseID("address_id", input.AddressID)
	if err != nil {
		return nil, nil, err
	}

	cart, err := s.carts.Claim(ctx, cartID)
	if err != nil {
		return nil, nil, err
	}
	ctx = s.logg.WithCartID(ctx, cartID.String())

	order, addr, err := s.priceAndPersist(ctx, cart, addressID, input)
	if err != nil {
		// The caller may already be gone; the cart must not stay checking_out.
		releaseCtx, cancel := detached(ctx, releaseTimeout)
		defer cancel()
		if releaseErr := s.carts.Release(releaseCtx, cartID); releaseErr != nil {
			s.logg.Error(ctx, "release cart claim", releaseErr)
		}
		return nil, nil, err
	}
	return order, addr, nil
}

func (s *service) priceAndPersist(ctx context.Context, cart *models.Cart, addressID uuid.UUID, input CreateOrderInput) (*models.Order, *models.Address, error) {
	if len(cart.Items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	addr, err := s.addresses.Resolve(ctx, addressID, input.UserID)
	if err != nil {
		return nil, nil, err
	}

	code := promoCode(input.PromoCode, cart.PromoCode)

	var order *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)

		items, subtotal, err := lockAndPrice(ctx, products, cart.Items)
		if err != nil {
			return err
		}

		var discount types.Money
		if code != "" {
			discount, err = s.promos.Quote(ctx, tx, code, input.UserID, subtotal, s.shipping)
			if err != nil {
				return err
			}
		}

		total := subtotal + s.shipping - discount
		if input.ClientTotal != nil && *input.ClientTotal != total {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"client_total": input.ClientTotal.String(),
				"final_total":  total.String(),
			}), "client total differs from confirmed price")
		}

		order = &models.Order{
			ID:             uuid.New(),
			CartID:         cart.ID,
			UserID:         input.UserID,
			AddressID:      addr.ID,
			Currency:       s.currency,
			SubtotalCents:  subtotal.Cents(),
			DiscountCents:  discount.Cents(),
			ShippingCents:  s.shipping.Cents(),
			VATCents:       total.IncludedTax(s.vatRate).Cents(),
			TotalCents:     total.Cents(),
			PriceConfirmed: true,
			Status:         enums.OrderStatusConfirmed,
			Items:          items,
		}
		if code != "" {
			order.PromoCode = &code
		}

		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "an order already exists for this cart")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}

		for _, item := range items {
			ok, err := products.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return stockExceeded(item.ProductID, item.Quantity, 0)
			}
		}

		if code != "" {
			if err := s.promos.Redeem(ctx, tx, code, order.ID, input.UserID); err != nil {
				return err
			}
		}

		return s.carts.MarkConverted(ctx, tx, cart.ID, order.ID)
	})
	if err != nil {
		return nil, nil, err
	}
	return order, addr, nil
}

// lockAndPrice locks every product on the cart and snapshots its current
// price. Catalog prices are the only prices trusted. Rows are locked in
// product id order so concurrent checkouts cannot deadlock; items keep the
// cart's line order.
func lockAndPrice(ctx context.Context, products *product.Repository, lines []models.CartItem) ([]models.OrderItem, types.Money, error) {
	items := make([]models.OrderItem, len(lines))
	var subtotal types.Money
	for _, i := range lockOrder(lines) {
		line := lines[i]
		p, err := products.LockActiveByID(ctx, line.ProductID)
		if err != nil {
			if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
				return nil, 0, stockExceeded(line.ProductID, line.Quantity, 0)
			}
			return nil, 0, err
		}
		if line.Quantity > p.Stock {
			return nil, 0, stockExceeded(p.ID, line.Quantity, p.Stock)
		}
		lineTotal := types.Money(p.PriceCents * int64(line.Quantity))
		subtotal += lineTotal
		items[i] = models.OrderItem{
			ProductID:      p.ID,
			ProductName:    p.Name,
			UnitPriceCents: p.PriceCents,
			Quantity:       line.Quantity,
			LineTotalCents: lineTotal.Cents(),
			Position:       i,
		}
	}
	return items, subtotal, nil
}

// lockOrder returns the indexes of lines sorted by product id.
func lockOrder(lines []models.CartItem) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lines[idx[a]].ProductID.String() < lines[idx[b]].ProductID.String()
	})
	return idx
}

// dispatch publishes the confirmation detached from the caller's
// cancellation. Failures are logged and counted; the order stands. The
// result mirrors the flag stored on the order.
func (s *service) dispatch(ctx context.Context, order *models.Order, addr *models.Address) bool {
	if s.dispatcher == nil {
		s.metrics.ObserveDispatch(dispatchDisabled)
		return false
	}

	dispatchCtx, cancel := detached(ctx, s.publishTimeout)
	defer cancel()

	if err := s.dispatcher.Dispatch(dispatchCtx, buildConfirmation(order, addr)); err != nil {
		s.metrics.ObserveDispatch(dispatchFailed)
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order confirmation dispatch failed")
		return false
	}
	s.metrics.ObserveDispatch(dispatchSent)

	return s.markDispatched(ctx, order.ID)
}

// markDispatched persists the confirmation flag, retrying once on a fresh
// deadline when the first write fails.
func (s *service) markDispatched(ctx context.Context, orderID uuid.UUID) bool {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		markCtx, cancel := detached(ctx, releaseTimeout)
		updated, err := s.repo.MarkDispatched(markCtx, orderID, s.now().UTC())
		cancel()
		if err == nil {
			// false after a failed attempt means that attempt's write landed.
			return updated || lastErr != nil
		}
		lastErr = err
	}
	s.logg.Error(ctx, "persist confirmation flag", lastErr)
	return false
}

func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// GetOrder returns the stored snapshot. Orders placed by another account
// are reported as missing.
func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, userID *uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil || (order.UserID != nil && (userID == nil || *order.UserID != *userID)) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return toDTO(order), nil
}

func promoCode(explicit string, annotated *string) string {
	code := strings.ToUpper(strings.TrimSpace(explicit))
	if code == "" && annotated != nil {
		code = strings.ToUpper(strings.TrimSpace(*annotated))
	}
	return code
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, field+" must be a valid uuid").
			WithDetails(map[string]any{"field": field})
	}
	return id, nil
}

func stockExceeded(productID uuid.UUID, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeStockExceeded, "requested quantity exceeds available stock").
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		})
}
