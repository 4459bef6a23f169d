package cart

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// LineInput is a requested product quantity.
type LineInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// View is the priced, read-only rendering of a cart. Every amount is derived
// from current catalog prices at read time.
type View struct {
	ID        uuid.UUID        `json:"id"`
	Status    enums.CartStatus `json:"status"`
	Currency  string           `json:"currency"`
	Items     []ItemView       `json:"items"`
	ItemCount int              `json:"item_count"`
	Subtotal  types.Money      `json:"subtotal"`
	PromoCode *string          `json:"promo_code,omitempty"`
}

// ItemView is one priced line.
type ItemView struct {
	ProductID uuid.UUID   `json:"product_id"`
	Name      string      `json:"name"`
	ImageURL  *string     `json:"image_url,omitempty"`
	UnitPrice types.Money `json:"unit_price"`
	Quantity  int         `json:"quantity"`
	LineTotal types.Money `json:"line_total"`
	Available bool        `json:"available"`
}

func buildView(cart *models.Cart, products map[uuid.UUID]models.Product, currency string) *View {
	view := &View{
		ID:        cart.ID,
		Status:    cart.Status,
		Currency:  currency,
		Items:     make([]ItemView, 0, len(cart.Items)),
		PromoCode: cart.PromoCode,
	}
	for _, item := range cart.Items {
		p, ok := products[item.ProductID]
		if !ok {
			continue
		}
		unit := types.Money(p.PriceCents)
		line := unit * types.Money(item.Quantity)
		view.Items = append(view.Items, ItemView{
			ProductID: item.ProductID,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
			UnitPrice: unit,
			Quantity:  item.Quantity,
			LineTotal: line,
			Available: p.IsActive && item.Quantity <= p.Stock,
		})
		view.ItemCount += item.Quantity
		view.Subtotal += line
	}
	return view
}
