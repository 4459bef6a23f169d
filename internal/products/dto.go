package product

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// ProductDTO is the catalog payload returned to clients.
type ProductDTO struct {
	ID          uuid.UUID   `json:"id"`
	Slug        string      `json:"slug"`
	Name        string      `json:"name"`
	Description *string     `json:"description,omitempty"`
	ImageURL    *string     `json:"image_url,omitempty"`
	Price       types.Money `json:"price"`
	Stock       int         `json:"stock"`
	MaxPerOrder int         `json:"max_per_order,omitempty"`
	InStock     bool        `json:"in_stock"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// FromModel maps the persisted product onto its DTO.
func FromModel(p models.Product) ProductDTO {
	return ProductDTO{
		ID:          p.ID,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Price:       types.Money(p.PriceCents),
		Stock:       p.Stock,
		MaxPerOrder: p.MaxPerOrder,
		InStock:     p.Stock > 0,
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}
