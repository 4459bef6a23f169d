package product

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

const listKey = "active"

type catalogReader interface {
	ListActive(ctx context.Context) ([]models.Product, error)
	FindActiveByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Service exposes the read-only catalog.
type Service interface {
	List(ctx context.Context) ([]ProductDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*ProductDTO, error)
}

type service struct {
	repo catalogReader
	sfg  singleflight.Group
}

// NewService builds the catalog service.
func NewService(repo catalogReader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	return &service{repo: repo}, nil
}

// List collapses concurrent identical reads into one query. Nothing is
// cached between calls so stock is always current.
func (s *service) List(ctx context.Context) ([]ProductDTO, error) {
	v, err, _ := s.sfg.Do(listKey, func() (interface{}, error) {
		rows, err := s.repo.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]ProductDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, FromModel(row))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]ProductDTO)
	out := make([]ProductDTO, len(shared))
	copy(out, shared)
	return out, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*ProductDTO, error) {
	row, err := s.repo.FindActiveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := FromModel(*row)
	return &dto, nil
}
