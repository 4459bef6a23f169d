package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Repository encapsulates cart and cart item persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Create inserts the provided cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	return r.db.WithContext(ctx).Omit("Items").Create(cart).Error
}

// LockByID loads the cart row with FOR UPDATE, serializing writers on the cart.
func (r *Repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cart, nil
}

// FindByID loads the cart with its items in insertion order.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cart, nil
}

// FindItem returns the line for productID, or nil when the cart has none.
func (r *Repository) FindItem(ctx context.Context, cartID, productID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// NextPosition returns the position for a new line appended to the cart.
func (r *Repository) NextPosition(ctx context.Context, cartID uuid.UUID) (int, error) {
	var last int
	err := r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("cart_id = ?", cartID).
		Select("COALESCE(MAX(position), -1)").
		Scan(&last).Error
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

// CreateItem inserts a new line.
func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItemQuantity overwrites the quantity of an existing line.
func (r *Repository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity).Error
}

// DeleteItem removes the line for productID and reports whether one existed.
func (r *Repository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Delete(&models.CartItem{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetPromoCode annotates the cart with a code, or clears it when code is nil.
func (r *Repository) SetPromoCode(ctx context.Context, cartID uuid.UUID, code *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("promo_code", code).Error
}

// Touch bumps updated_at after a line change.
func (r *Repository) Touch(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		Update("updated_at", time.Now().UTC()).Error
}

// TransitionStatus moves the cart from one status to another only when it is
// currently in from. It reports whether the transition happened.
func (r *Repository) TransitionStatus(ctx context.Context, cartID uuid.UUID, from, to enums.CartStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", cartID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkConverted retires a claimed cart once its order exists.
func (r *Repository) MarkConverted(ctx context.Context, cartID, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status = ?", cartID, enums.CartStatusCheckingOut).
		Updates(map[string]any{
			"status":       enums.CartStatusConverted,
			"order_id":     orderID,
			"converted_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete removes the cart and its lines.
func (r *Repository) Delete(ctx context.Context, cartID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("id = ?", cartID).Delete(&models.Cart{}).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
}
