package database

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/models"
	"storefront-service/stock"
)

func seedProduct(m *MemoryStore, id string, qty int) {
	m.PutProduct(models.Product{ID: id, Name: id, Price: decimal.NewFromInt(10), Stock: qty, SellerID: "S1", IsActive: true})
}

func TestMemoryStore_DecrementIsIdempotentPerOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedProduct(m, "P1", 5)

	lines := []models.StockLine{{ProductID: "P1", Quantity: 3}}
	ok, err := m.DecrementStock(ctx, lines, "O1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.DecrementStock(ctx, lines, "O1")
	require.NoError(t, err)
	assert.True(t, ok)

	q, err := m.GetStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, q)
}

func TestMemoryStore_DecrementInsufficientLeavesStock(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedProduct(m, "P1", 5)
	seedProduct(m, "P2", 1)

	ok, err := m.DecrementStock(ctx, []models.StockLine{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 2}}, "O1")
	require.NoError(t, err)
	assert.False(t, ok)

	q1, _ := m.GetStock(ctx, "P1")
	q2, _ := m.GetStock(ctx, "P2")
	assert.Equal(t, 5, q1)
	assert.Equal(t, 1, q2)
}

func TestMemoryStore_RestoreOnlyAfterDecrement(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedProduct(m, "P1", 5)
	lines := []models.StockLine{{ProductID: "P1", Quantity: 2}}

	ok, err := m.RestoreStock(ctx, lines, "O1")
	require.NoError(t, err)
	assert.True(t, ok)
	q, _ := m.GetStock(ctx, "P1")
	assert.Equal(t, 5, q, "nothing was taken, nothing to return")

	_, _ = m.DecrementStock(ctx, lines, "O1")
	_, _ = m.RestoreStock(ctx, lines, "O1")
	_, _ = m.RestoreStock(ctx, lines, "O1")
	q, _ = m.GetStock(ctx, "P1")
	assert.Equal(t, 5, q)
}

func TestMemoryStore_UnknownProductStock(t *testing.T) {
	_, err := NewMemoryStore().GetStock(context.Background(), "nope")
	assert.ErrorIs(t, err, stock.ErrUnknownProduct)
}

func TestMemoryStore_SubscribeReportsInitialAndChanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	seedProduct(m, "P1", 5)
	seedProduct(m, "P2", 1)

	seen := map[string][]int{}
	cancel, err := m.Subscribe(ctx, []string{"P1"}, func(id string, q int) {
		seen[id] = append(seen[id], q)
	})
	require.NoError(t, err)

	require.NoError(t, m.SetStock("P1", 4))
	require.NoError(t, m.SetStock("P2", 9))
	cancel()
	require.NoError(t, m.SetStock("P1", 1))

	assert.Equal(t, []int{5, 4}, seen["P1"])
	assert.Empty(t, seen["P2"])
}

func TestMemoryStore_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now().UTC()
	o := &models.Order{OrderID: "380001-251015-AAAA", CustomerID: "U1", Status: models.OrderStatusReceived, CreatedAt: now}

	ref, err := m.CreateOrder(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, ref)

	_, err = m.CreateOrder(ctx, o)
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	require.NoError(t, m.TransitionStatus(ctx, ref, models.OrderStatusReceived, models.OrderStatusPacked, now))
	err = m.TransitionStatus(ctx, ref, models.OrderStatusReceived, models.OrderStatusCancelled, now)
	assert.ErrorIs(t, err, ErrStatusConflict)

	got, err := m.GetOrder(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPacked, got.Status)
	require.NotNil(t, got.PackedAt)

	list, err := m.ListOrdersByCustomer(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = m.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListProductsFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutProduct(models.Product{ID: "A", Category: "seeds", IsActive: true})
	m.PutProduct(models.Product{ID: "B", Category: "tools", IsActive: true})
	m.PutProduct(models.Product{ID: "C", Category: "seeds", IsActive: false})

	list, err := m.ListProducts(ctx, "seeds")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A", list[0].ID)

	list, err = m.ListProducts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStore_UpdateUserProfileKeepsRole(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutUser(models.UserProfile{ID: "U1", Name: "Old", Role: "seller"})

	require.NoError(t, m.UpdateUserProfile(ctx, &models.UserProfile{
		ID: "U1", Name: "Asha", Phone: "9876543210", Address: "12 Farm Road", Pincode: "380001", Role: "admin",
	}))
	u, err := m.GetUserProfile(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", u.Name)
	assert.Equal(t, "380001", u.Pincode)
	assert.Equal(t, "seller", u.Role)

	require.NoError(t, m.UpdateUserProfile(ctx, &models.UserProfile{ID: "U2", Name: "New"}))
	u, err = m.GetUserProfile(ctx, "U2")
	require.NoError(t, err)
	assert.Empty(t, u.Role)
}

func TestMemoryStore_SaveUserAddress(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	_, err := m.GetUserAddress(ctx, "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.SaveUserAddress(ctx, &models.UserAddress{UserID: "U1", Address: "Plot 4", Pincode: "382001"}))
	a, err := m.GetUserAddress(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, "382001", a.Pincode)
}
