package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type cartAccess interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (*cart.View, error)
	SetPromoCode(ctx context.Context, cartID uuid.UUID, code *string) error
}

// ApplyInput asks for code to be applied to a cart.
type ApplyInput struct {
	CartID uuid.UUID
	Code   string
	UserID *uuid.UUID
}

// Application is the outcome of applying a code. It is derived on every
// request and never stored; only the code is remembered on the cart.
type Application struct {
	CartID         uuid.UUID      `json:"cart_id"`
	PromoCode      string         `json:"promo_code"`
	Valid          bool           `json:"valid"`
	DiscountAmount types.Money    `json:"discount_amount"`
	Subtotal       types.Money    `json:"subtotal"`
	Shipping       types.Money    `json:"shipping"`
	Total          types.Money    `json:"total"`
	Reason         string         `json:"reason,omitempty"`
	Code           pkgerrors.Code `json:"code,omitempty"`
}

// Service validates codes against carts and consumes them at order time.
type Service interface {
	Apply(ctx context.Context, input ApplyInput) (*Application, error)
	Quote(ctx context.Context, tx *gorm.DB, code string, userID *uuid.UUID, subtotal, shipping types.Money) (types.Money, error)
	Redeem(ctx context.Context, tx *gorm.DB, code string, orderID uuid.UUID, userID *uuid.UUID) error
}

type service struct {
	repo     *Repository
	rules    RuleSource
	carts    cartAccess
	shipping types.Money
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds the promo service. Rules are read through the repository.
func NewService(repo *Repository, carts cartAccess, cfg config.CheckoutConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("promo repository required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:     repo,
		rules:    repo,
		carts:    carts,
		shipping: types.Money(cfg.ShippingFeeCents),
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Apply returns valid=false with a reason for every customer-correctable
// failure. Only infrastructure problems and unknown carts are errors.
func (s *service) Apply(ctx context.Context, input ApplyInput) (*Application, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo_code is required")
	}

	view, err := s.carts.GetCart(ctx, input.CartID)
	if err != nil {
		return nil, err
	}

	app := &Application{
		CartID:    input.CartID,
		PromoCode: code,
		Subtotal:  view.Subtotal,
		Shipping:  s.shipping,
		Total:     view.Subtotal + s.shipping,
	}

	rule, err := s.rules.Lookup(ctx, code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load promo code")
	}
	if rule == nil {
		return s.rejectOn(ctx, view, app, pkgerrors.New(pkgerrors.CodePromoNotFound, "promo code not found"))
	}

	if err := s.checkOncePerAccount(ctx, s.repo, rule, input.UserID); err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check promo redemptions")
		}
		return s.rejectOn(ctx, view, app, err)
	}

	discount, err := Evaluate(*rule, view.Subtotal, s.shipping, s.now())
	if err != nil {
		return s.rejectOn(ctx, view, app, err)
	}

	if err := s.carts.SetPromoCode(ctx, input.CartID, &code); err != nil {
		return nil, err
	}

	app.Valid = true
	app.DiscountAmount = discount
	app.Total = view.Subtotal + s.shipping - discount
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"cart_id":  input.CartID.String(),
		"code":     code,
		"discount": discount.String(),
	}), "promo code applied")
	return app, nil
}

// Quote re-evaluates code inside an order transaction. Every rule failure is
// reported as PromoNotApplicable.
func (s *service) Quote(ctx context.Context, tx *gorm.DB, code string, userID *uuid.UUID, subtotal, shipping types.Money) (types.Money, error) {
	repo := s.repo.WithTx(tx)
	rule, err := repo.Lookup(ctx, code)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load promo code")
	}
	if rule == nil {
		return 0, pkgerrors.New(pkgerrors.CodePromoNotApplicable, "promo code not found")
	}
	if err := s.checkOncePerAccount(ctx, repo, rule, userID); err != nil {
		return 0, notApplicable(err)
	}
	discount, err := Evaluate(*rule, subtotal, shipping, s.now())
	if err != nil {
		return 0, notApplicable(err)
	}
	return discount, nil
}

// Redeem records consumption of code by an order. The usage increment is
// conditional so a limit hit by a concurrent order fails this one.
func (s *service) Redeem(ctx context.Context, tx *gorm.DB, code string, orderID uuid.UUID, userID *uuid.UUID) error {
	repo := s.repo.WithTx(tx)
	normalized := NormalizeCode(code)

	incremented, err := repo.IncrementUsage(ctx, normalized)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "increment promo usage")
	}
	if !incremented {
		return pkgerrors.New(pkgerrors.CodePromoNotApplicable, "promo code usage limit reached")
	}

	if err := repo.CreateRedemption(ctx, &models.PromoRedemption{
		Code:    normalized,
		OrderID: orderID,
		UserID:  userID,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record promo redemption")
	}
	return nil
}

func (s *service) checkOncePerAccount(ctx context.Context, repo *Repository, rule *Rule, userID *uuid.UUID) error {
	if !rule.OncePerAccount || userID == nil {
		return nil
	}
	used, err := repo.HasRedemption(ctx, rule.Code, *userID)
	if err != nil {
		return err
	}
	if used {
		return pkgerrors.New(pkgerrors.CodePromoNotApplicable, "promo code was already used by this account")
	}
	return nil
}

// rejectOn drops any code previously annotated on the cart so a later order
// without an explicit code does not fall back to it.
func (s *service) rejectOn(ctx context.Context, view *cart.View, app *Application, err error) (*Application, error) {
	if view.PromoCode != nil {
		if clearErr := s.carts.SetPromoCode(ctx, app.CartID, nil); clearErr != nil {
			return nil, clearErr
		}
	}
	return reject(app, err), nil
}

func reject(app *Application, err error) *Application {
	typed := pkgerrors.As(err)
	app.Valid = false
	app.DiscountAmount = 0
	app.Code = typed.Code()
	app.Reason = typed.Message()
	return app
}

func notApplicable(err error) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "evaluate promo code")
	}
	if typed.Code() == pkgerrors.CodePromoNotApplicable {
		return typed
	}
	return pkgerrors.New(pkgerrors.CodePromoNotApplicable, typed.Message())
}
