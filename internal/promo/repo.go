package promo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// RuleSource looks up promo policy by code. A missing code yields nil, nil.
type RuleSource interface {
	Lookup(ctx context.Context, code string) (*Rule, error)
}

// Repository persists promo codes and their redemptions.
type Repository struct {
	db   *gorm.DB
	lock bool
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to tx. Lookups inside a transaction lock the
// promo row so usage checks and increments for one code are serialized.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, lock: true}
}

func (r *Repository) Lookup(ctx context.Context, code string) (*Rule, error) {
	q := r.db.WithContext(ctx)
	if r.lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.PromoCode
	if err := q.Where("code = ?", NormalizeCode(code)).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	rule := RuleFromModel(row)
	return &rule, nil
}

// HasRedemption reports whether userID already consumed code.
func (r *Repository) HasRedemption(ctx context.Context, code string, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PromoRedemption{}).
		Where("code = ? AND user_id = ?", NormalizeCode(code), userID).
		Count(&count).Error
	return count > 0, err
}

// IncrementUsage bumps usage_count only while the limit has room.
func (r *Repository) IncrementUsage(ctx context.Context, code string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PromoCode{}).
		Where("code = ? AND (usage_limit IS NULL OR usage_count < usage_limit)", NormalizeCode(code)).
		Update("usage_count", gorm.Expr("usage_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) CreateRedemption(ctx context.Context, redemption *models.PromoRedemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}

// NormalizeCode trims and upper-cases a customer supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
