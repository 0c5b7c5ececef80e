package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-service/database"
	"storefront-service/models"
	"storefront-service/stock"
)

func seeded(t *testing.T) (*database.MemoryStore, *Catalog) {
	t.Helper()
	store := database.NewMemoryStore()
	store.PutProduct(models.Product{
		ID: "P1", Name: "Wheat seed", Description: "Certified seed for rabi sowing", Category: "seeds",
		Price: decimal.NewFromInt(100), Stock: 10, CoveredPincodes: []string{"380001"}, IsActive: true,
	})
	store.PutProduct(models.Product{
		ID: "P2", Name: "Organic manure", Description: "Composted cow dung", Category: "fertilizer",
		Price: decimal.NewFromInt(70), Stock: 4, CoveredPincodes: []string{"380001", "382001"}, IsActive: true,
	})
	store.PutProduct(models.Product{
		ID: "P3", Name: "Drip kit", Category: "tools",
		Price: decimal.NewFromInt(50), Stock: 2, CoveredPincodes: []string{"380001"}, IsActive: false,
	})
	return store, New(store, stock.NewManager(store, zap.NewNop()), zap.NewNop())
}

func ids(list []models.Product) []string {
	var out []string
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func TestCatalog_ListFilters(t *testing.T) {
	_, c := seeded(t)
	ctx := context.Background()

	list, err := c.List(ctx, Query{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"P1", "P2"}, ids(list), "inactive products are hidden")

	list, err = c.List(ctx, Query{Pincode: "382001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P2"}, ids(list))

	list, err = c.List(ctx, Query{Search: "SEED"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P1"}, ids(list))

	list, err = c.List(ctx, Query{Search: "cow dung"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P2"}, ids(list), "description is searched too")

	list, err = c.List(ctx, Query{Category: "seeds", Pincode: "382001"})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCatalog_LiveStock(t *testing.T) {
	store, c := seeded(t)
	ctx := context.Background()
	require.NoError(t, store.SetStock("P2", 1))

	p, err := c.Get(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)

	list, err := c.List(ctx, Query{Pincode: "382001"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Stock)
}

func TestCatalog_GetHidesInactive(t *testing.T) {
	_, c := seeded(t)
	_, err := c.Get(context.Background(), "P3")
	assert.ErrorIs(t, err, database.ErrNotFound)
	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

type downStock struct{}

func (downStock) Available(ctx context.Context, id string) (int, error) {
	return 0, errors.New("oracle down")
}

func TestCatalog_StockOutageKeepsStoredFigure(t *testing.T) {
	store, _ := seeded(t)
	c := New(store, downStock{}, zap.NewNop())
	p, err := c.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Stock)
}
