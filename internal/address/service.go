package address

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type Service interface {
	Create(ctx context.Context, userID *uuid.UUID, req CreateRequest) (*AddressDTO, error)
	List(ctx context.Context, userID uuid.UUID) ([]AddressDTO, error)
	Get(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*AddressDTO, error)
	Resolve(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.Address, error)
}

type service struct {
	repo *Repository
}

func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("address repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, userID *uuid.UUID, req CreateRequest) (*AddressDTO, error) {
	addr := toModel(req, userID)
	if err := s.repo.Create(ctx, addr); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create address")
	}
	dto := toDTO(*addr)
	return &dto, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]AddressDTO, error) {
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list addresses")
	}
	out := make([]AddressDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDTO(row))
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*AddressDTO, error) {
	addr, err := s.Resolve(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	dto := toDTO(*addr)
	return &dto, nil
}

// Resolve loads an address the caller may use. Addresses owned by another
// account are indistinguishable from missing ones.
func (s *service) Resolve(ctx context.Context, id uuid.UUID, userID *uuid.UUID) (*models.Address, error) {
	addr, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load address")
	}
	if addr == nil || !ownedBy(addr, userID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
	}
	return addr, nil
}

func ownedBy(addr *models.Address, userID *uuid.UUID) bool {
	if addr.UserID == nil {
		return true
	}
	return userID != nil && *addr.UserID == *userID
}
