package address

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CreateRequest is a new shipping address.
type CreateRequest struct {
	FullName   string  `json:"full_name" validate:"required,max=120"`
	Phone      *string `json:"phone,omitempty" validate:"omitempty,max=32"`
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	District   *string `json:"district,omitempty" validate:"omitempty,max=100"`
	City       string  `json:"city" validate:"required,max=100"`
	PostalCode string  `json:"postal_code" validate:"required,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
}

// AddressDTO is the address payload returned to clients.
type AddressDTO struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	FullName   string     `json:"full_name"`
	Phone      *string    `json:"phone,omitempty"`
	Line1      string     `json:"line1"`
	Line2      *string    `json:"line2,omitempty"`
	District   *string    `json:"district,omitempty"`
	City       string     `json:"city"`
	PostalCode string     `json:"postal_code"`
	Country    string     `json:"country"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toModel(req CreateRequest, userID *uuid.UUID) *models.Address {
	return &models.Address{
		UserID:     userID,
		FullName:   strings.TrimSpace(req.FullName),
		Phone:      trimPtr(req.Phone),
		Line1:      strings.TrimSpace(req.Line1),
		Line2:      trimPtr(req.Line2),
		District:   trimPtr(req.District),
		City:       strings.TrimSpace(req.City),
		PostalCode: strings.TrimSpace(req.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(req.Country)),
	}
}

func toDTO(m models.Address) AddressDTO {
	return AddressDTO{
		ID:         m.ID,
		UserID:     m.UserID,
		FullName:   m.FullName,
		Phone:      m.Phone,
		Line1:      m.Line1,
		Line2:      m.Line2,
		District:   m.District,
		City:       m.City,
		PostalCode: m.PostalCode,
		Country:    m.Country,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
