package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	product "github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const releaseTimeout = 5 * time.Second

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns cart contents and the checkout claim on a cart.
type Service interface {
	CreateCart(ctx context.Context, userID *uuid.UUID, items []LineInput) (*View, error)
	AddItem(ctx context.Context, cartID *uuid.UUID, productID uuid.UUID, quantity int) (*View, error)
	UpdateQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*View, error)
	RemoveItem(ctx context.Context, cartID, productID uuid.UUID) (*View, error)
	GetCart(ctx context.Context, cartID uuid.UUID) (*View, error)
	DeleteCart(ctx context.Context, cartID uuid.UUID) error
	SetPromoCode(ctx context.Context, cartID uuid.UUID, code *string) error

	Claim(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	Release(ctx context.Context, cartID uuid.UUID) error
	MarkConverted(ctx context.Context, tx *gorm.DB, cartID, orderID uuid.UUID) error
}

type service struct {
	tx       txRunner
	repo     *Repository
	products *product.Repository
	currency string
	logg     *logger.Logger
}

// NewService builds the cart service.
func NewService(tx txRunner, repo *Repository, products *product.Repository, cfg config.CheckoutConfig, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	currency := strings.TrimSpace(cfg.Currency)
	if currency == "" {
		currency = "TRY"
	}
	return &service{tx: tx, repo: repo, products: products, currency: currency, logg: logg}, nil
}

func (s *service) CreateCart(ctx context.Context, userID *uuid.UUID, items []LineInput) (*View, error) {
	var cartID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		products := s.products.WithTx(tx)

		cart := &models.Cart{UserID: userID}
		if err := repo.Create(ctx, cart); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart")
		}
		cartID = cart.ID
		for _, item := range items {
			if err := s.addLine(ctx, repo, products, cart.ID, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithCartID(ctx, cartID.String()), "cart created")
	return s.GetCart(ctx, cartID)
}

// AddItem merges quantity into the cart. A nil cartID starts a new cart.
func (s *service) AddItem(ctx context.Context, cartID *uuid.UUID, productID uuid.UUID, quantity int) (*View, error) {
	if quantity <= 0 {
		return nil, invalidQuantity(quantity)
	}
	if cartID == nil {
		return s.CreateCart(ctx, nil, []LineInput{{ProductID: productID, Quantity: quantity}})
	}
	return s.mutate(ctx, *cartID, func(repo *Repository, products *product.Repository, cart *models.Cart) error {
		return s.addLine(ctx, repo, products, cart.ID, productID, quantity)
	})
}

func (s *service) UpdateQuantity(ctx context.Context, cartID, productID uuid.UUID, quantity int) (*View, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must not be negative").
			WithDetails(map[string]any{"quantity": quantity})
	}
	return s.mutate(ctx, cartID, func(repo *Repository, products *product.Repository, cart *models.Cart) error {
		item, err := repo.FindItem(ctx, cart.ID, productID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart item")
		}
		if item == nil {
			return itemNotFound(productID)
		}
		if quantity == 0 {
			_, err := repo.DeleteItem(ctx, cart.ID, productID)
			return wrapInternal(err, "remove cart item")
		}
		p, err := products.FindActiveByID(ctx, productID)
		if err != nil {
			return err
		}
		if err := checkCeiling(p, quantity); err != nil {
			return err
		}
		return wrapInternal(repo.UpdateItemQuantity(ctx, item.ID, quantity), "update cart item")
	})
}

func (s *service) RemoveItem(ctx context.Context, cartID, productID uuid.UUID) (*View, error) {
	return s.mutate(ctx, cartID, func(repo *Repository, _ *product.Repository, cart *models.Cart) error {
		removed, err := repo.DeleteItem(ctx, cart.ID, productID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove cart item")
		}
		if !removed {
			return itemNotFound(productID)
		}
		return nil
	})
}

func (s *service) GetCart(ctx context.Context, cartID uuid.UUID) (*View, error) {
	cart, err := s.repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Status == enums.CartStatusConverted {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}

	ids := make([]uuid.UUID, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return buildView(cart, products, s.currency), nil
}

func (s *service) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := lockActive(ctx, repo, cartID)
		if err != nil {
			return err
		}
		return wrapInternal(repo.Delete(ctx, cart.ID), "delete cart")
	})
}

func (s *service) SetPromoCode(ctx context.Context, cartID uuid.UUID, code *string) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := lockActive(ctx, repo, cartID)
		if err != nil {
			return err
		}
		return wrapInternal(repo.SetPromoCode(ctx, cart.ID, code), "annotate promo code")
	})
}

// Claim takes the exclusive checkout hold on an active cart and returns it
// with its lines. Missing or converted carts are NotFound; a cart already
// held by another checkout is AlreadyProcessed.
func (s *service) Claim(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	claimed, err := s.repo.TransitionStatus(ctx, cartID, enums.CartStatusActive, enums.CartStatusCheckingOut)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim cart")
	}
	if !claimed {
		cart, err := s.repo.FindByID(ctx, cartID)
		if err != nil {
			return nil, err
		}
		return nil, statusError(cart.Status)
	}

	cart, err := s.repo.FindByID(ctx, cartID)
	if err != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if releaseErr := s.Release(releaseCtx, cartID); releaseErr != nil {
			s.logg.Error(s.logg.WithCartID(ctx, cartID.String()), "release cart after failed load", releaseErr)
		}
		return nil, err
	}
	return cart, nil
}

// Release returns a held cart to active after a failed checkout.
func (s *service) Release(ctx context.Context, cartID uuid.UUID) error {
	_, err := s.repo.TransitionStatus(ctx, cartID, enums.CartStatusCheckingOut, enums.CartStatusActive)
	return wrapInternal(err, "release cart")
}

func (s *service) MarkConverted(ctx context.Context, tx *gorm.DB, cartID, orderID uuid.UUID) error {
	converted, err := s.repo.WithTx(tx).MarkConverted(ctx, cartID, orderID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "convert cart")
	}
	if !converted {
		return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "cart is no longer held by this checkout")
	}
	return nil
}

// mutate runs fn under the cart row lock and returns the refreshed view.
func (s *service) mutate(ctx context.Context, cartID uuid.UUID, fn func(repo *Repository, products *product.Repository, cart *models.Cart) error) (*View, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := lockActive(ctx, repo, cartID)
		if err != nil {
			return err
		}
		if err := fn(repo, s.products.WithTx(tx), cart); err != nil {
			return err
		}
		return wrapInternal(repo.Touch(ctx, cart.ID), "touch cart")
	})
	if err != nil {
		return nil, err
	}
	return s.GetCart(ctx, cartID)
}

// addLine adds quantity to the line for productID, checking the summed
// quantity against freshly read stock.
func (s *service) addLine(ctx context.Context, repo *Repository, products *product.Repository, cartID, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return invalidQuantity(quantity)
	}
	p, err := products.FindActiveByID(ctx, productID)
	if err != nil {
		return err
	}
	existing, err := repo.FindItem(ctx, cartID, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart item")
	}

	total := quantity
	if existing != nil {
		total += existing.Quantity
	}
	if err := checkCeiling(p, total); err != nil {
		return err
	}

	if existing != nil {
		return wrapInternal(repo.UpdateItemQuantity(ctx, existing.ID, total), "update cart item")
	}
	position, err := repo.NextPosition(ctx, cartID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute item position")
	}
	return wrapInternal(repo.CreateItem(ctx, &models.CartItem{
		CartID:    cartID,
		ProductID: productID,
		Quantity:  total,
		Position:  position,
	}), "create cart item")
}

func lockActive(ctx context.Context, repo *Repository, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.LockByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Status != enums.CartStatusActive {
		return nil, statusError(cart.Status)
	}
	return cart, nil
}

func statusError(status enums.CartStatus) error {
	if status == enums.CartStatusCheckingOut {
		return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "cart is already being processed")
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
}

func checkCeiling(p *models.Product, quantity int) error {
	if quantity > p.Stock {
		return pkgerrors.New(pkgerrors.CodeStockExceeded, fmt.Sprintf("only %d of %s left in stock", p.Stock, p.Name)).
			WithDetails(map[string]any{
				"product_id": p.ID,
				"requested":  quantity,
				"available":  p.Stock,
			})
	}
	if p.MaxPerOrder > 0 && quantity > p.MaxPerOrder {
		return pkgerrors.New(pkgerrors.CodeQuantityLimitExceeded, fmt.Sprintf("at most %d of %s per order", p.MaxPerOrder, p.Name)).
			WithDetails(map[string]any{
				"product_id": p.ID,
				"requested":  quantity,
				"limit":      p.MaxPerOrder,
			})
	}
	return nil
}

func invalidQuantity(quantity int) error {
	return pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be greater than zero").
		WithDetails(map[string]any{"quantity": quantity})
}

func itemNotFound(productID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart").
		WithDetails(map[string]any{"product_id": productID})
}

func wrapInternal(err error, message string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
