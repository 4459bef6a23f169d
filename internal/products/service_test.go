package product

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

type slowCatalog struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *slowCatalog) ListActive(context.Context) ([]models.Product, error) {
	c.calls.Add(1)
	<-c.release
	return []models.Product{{ID: uuid.New(), Name: "Tea", PriceCents: 8000, Stock: 5}}, nil
}

func (c *slowCatalog) FindActiveByID(context.Context, uuid.UUID) (*models.Product, error) {
	return nil, nil
}

func TestListCollapsesConcurrentCalls(t *testing.T) {
	catalog := &slowCatalog{release: make(chan struct{})}
	svc, err := NewService(catalog)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([][]ProductDTO, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.List(context.Background())
		}(i)
	}

	// let every caller join the in-flight call before it completes
	time.Sleep(50 * time.Millisecond)
	close(catalog.release)
	wg.Wait()

	assert.Equal(t, int32(1), catalog.calls.Load())
	for _, r := range results {
		require.Len(t, r, 1)
		assert.Equal(t, "80.00", r[0].Price.String())
	}
}

func TestListReadsFreshStockEachTime(t *testing.T) {
	conn := dbtest.Open(t)
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "Tea", PriceCents: 8000, Stock: 5})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	first, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 5, first[0].Stock)

	require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", p.ID).Update("stock", 0).Error)

	second, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second[0].Stock)
	assert.False(t, second[0].InStock)
}

func TestGetReturnsProduct(t *testing.T) {
	conn := dbtest.Open(t)
	p := dbtest.SeedProduct(t, conn, dbtest.ProductSpec{Name: "Tea", PriceCents: 1999, Stock: 2, MaxPerOrder: 1})
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	dto, err := svc.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "19.99", dto.Price.String())
	assert.Equal(t, 1, dto.MaxPerOrder)
}
