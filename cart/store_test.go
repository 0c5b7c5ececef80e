package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-service/models"
	"storefront-service/stock"
)

type fakeStock struct {
	mu  sync.Mutex
	qty map[string]int
	err error
}

func (f *fakeStock) Available(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	q, ok := f.qty[id]
	if !ok {
		return 0, stock.ErrUnknownProduct
	}
	return q, nil
}

func product(id, seller string, price int64, stock int) models.Product {
	return models.Product{
		ID:       id,
		Name:     "Product " + id,
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
		SellerID: seller,
		IsActive: true,
	}
}

func loadedStore(t *testing.T, qty map[string]int) (*Store, *MemoryPersister, *fakeStock) {
	t.Helper()
	p := NewMemoryPersister()
	fs := &fakeStock{qty: qty}
	s := NewStore("dev-1", p, fs, zap.NewNop())
	s.Load(context.Background())
	require.True(t, s.Initialized())
	return s, p, fs
}

func TestStore_MutationsBeforeLoad(t *testing.T) {
	s := NewStore("dev-1", NewMemoryPersister(), &fakeStock{}, zap.NewNop())
	assert.False(t, s.Initialized())
	err := s.AddToCart(context.Background(), product("P1", "S1", 10, 5), 1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.ClearCart(context.Background()), ErrNotInitialized)
}

func TestStore_AddMergesAndClampsToStock(t *testing.T) {
	ctx := context.Background()
	s, _, fs := loadedStore(t, map[string]int{"P1": 5})
	p1 := product("P1", "S1", 10, 5)

	require.NoError(t, s.AddToCart(ctx, p1, 2))
	require.NoError(t, s.AddToCart(ctx, p1, 3))
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)

	err := s.AddToCart(ctx, p1, 1)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, s.Quantity("P1"))

	fs.qty["P1"] = 0
	err = s.AddToCart(ctx, p1, 1)
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestStore_AddMoreThanAvailableLeavesCartUnchanged(t *testing.T) {
	s, p, _ := loadedStore(t, map[string]int{"P1": 3})

	err := s.AddToCart(context.Background(), product("P1", "S1", 10, 3), 5)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 0, s.Quantity("P1"))
	assert.Empty(t, s.Items())
	assert.Nil(t, p.Raw("dev-1"))
}

func TestStore_AddRefreshesSnapshotStock(t *testing.T) {
	s, _, _ := loadedStore(t, map[string]int{"P1": 4})
	require.NoError(t, s.AddToCart(context.Background(), product("P1", "S1", 10, 99), 1))
	assert.Equal(t, 4, s.Items()[0].Product.Stock)
}

func TestStore_AddUnknownProductIsOutOfStock(t *testing.T) {
	s, _, _ := loadedStore(t, map[string]int{})
	err := s.AddToCart(context.Background(), product("P9", "S1", 10, 5), 1)
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestStore_StockOracleFailureIsReturned(t *testing.T) {
	s, _, fs := loadedStore(t, map[string]int{"P1": 4})
	fs.err = errors.New("oracle unavailable")
	err := s.AddToCart(context.Background(), product("P1", "S1", 10, 4), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutOfStock)
	assert.Empty(t, s.Items())
}

func TestStore_UpdateQuantityZeroRemoves(t *testing.T) {
	ctx := context.Background()
	s, _, _ := loadedStore(t, map[string]int{"P1": 5, "P2": 5})
	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 10, 5), 2))
	require.NoError(t, s.AddToCart(ctx, product("P2", "S1", 10, 5), 1))

	require.NoError(t, s.UpdateQuantity(ctx, "P1", 0))
	assert.False(t, s.Contains("P1"))
	require.NoError(t, s.UpdateQuantity(ctx, "P1", 0))
	require.NoError(t, s.UpdateQuantity(ctx, "P1", -3))
	require.NoError(t, s.RemoveFromCart(ctx, "P1"))

	assert.Equal(t, 1, s.TotalItems())
	assert.True(t, s.Contains("P2"))
}

func TestStore_UpdateQuantityRejectedKeepsCart(t *testing.T) {
	ctx := context.Background()
	s, _, _ := loadedStore(t, map[string]int{"P1": 3})
	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 10, 3), 2))

	err := s.UpdateQuantity(ctx, "P1", 4)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 2, s.Quantity("P1"))

	require.NoError(t, s.UpdateQuantity(ctx, "P1", 3))
	assert.Equal(t, 3, s.Quantity("P1"))

	require.NoError(t, s.UpdateQuantity(ctx, "absent", 2))
	assert.Equal(t, 0, s.Quantity("absent"))
}

func TestStore_Totals(t *testing.T) {
	ctx := context.Background()
	s, _, _ := loadedStore(t, map[string]int{"P1": 10, "P2": 10})
	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 100, 10), 2))
	require.NoError(t, s.AddToCart(ctx, product("P2", "S2", 70, 10), 1))

	assert.True(t, decimal.NewFromInt(270).Equal(s.TotalAmount()))
	assert.Equal(t, 3, s.TotalItems())
	assert.Equal(t, 0, s.Quantity("P3"))
}

func TestStore_PersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, p, fs := loadedStore(t, map[string]int{"P1": 10, "P2": 10, "P3": 10})
	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 100, 10), 2))
	require.NoError(t, s.AddToCart(ctx, product("P2", "S2", 70, 10), 1))
	require.NoError(t, s.AddToCart(ctx, product("P3", "S2", 5, 10), 7))

	reloaded := NewStore("dev-1", p, fs, zap.NewNop())
	reloaded.Load(ctx)

	want := s.Items()
	got := reloaded.Items()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ProductID, got[i].ProductID)
		assert.Equal(t, want[i].Quantity, got[i].Quantity)
		assert.True(t, want[i].Product.Price.Equal(got[i].Product.Price))
	}
}

func TestStore_LoadDropsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	good, err := json.Marshal(models.CartItem{ProductID: "P1", Product: &models.Product{ID: "P1", Price: decimal.NewFromInt(3)}, Quantity: 2})
	require.NoError(t, err)
	raw := `[` + string(good) + `,
		{"productId":"","product":{"id":"P2"},"quantity":1},
		{"productId":"P3","quantity":1},
		{"productId":"P4","product":{"id":"P4"},"quantity":0},
		{"productId":"P5","product":{"id":"P5"},"quantity":"many"},
		42]`
	require.NoError(t, p.Save(ctx, "dev-1", []byte(raw)))

	s := NewStore("dev-1", p, &fakeStock{}, zap.NewNop())
	s.Load(ctx)
	assert.True(t, s.Initialized())
	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "P1", items[0].ProductID)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestStore_LoadUnreadableCartStartsEmpty(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	require.NoError(t, p.Save(ctx, "dev-1", []byte(`{not json`)))

	s := NewStore("dev-1", p, &fakeStock{}, zap.NewNop())
	s.Load(ctx)
	assert.True(t, s.Initialized())
	assert.Empty(t, s.Items())
	assert.Nil(t, p.Raw("dev-1"))
}

func TestStore_PersistFailureIsNotSurfaced(t *testing.T) {
	ctx := context.Background()
	s, p, _ := loadedStore(t, map[string]int{"P1": 5})
	p.Err = errors.New("disk full")

	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 10, 5), 1))
	assert.Equal(t, 1, s.Quantity("P1"))
	require.NoError(t, s.ClearCart(ctx))
	assert.Empty(t, s.Items())
}

func TestStore_ClearCartErasesPersistedState(t *testing.T) {
	ctx := context.Background()
	s, p, _ := loadedStore(t, map[string]int{"P1": 5})
	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 10, 5), 1))
	require.NotNil(t, p.Raw("dev-1"))

	require.NoError(t, s.ClearCart(ctx))
	assert.Nil(t, p.Raw("dev-1"))
	assert.Zero(t, s.TotalItems())
}

func TestStore_RemoveOrderedKeepsTheRest(t *testing.T) {
	ctx := context.Background()
	s, p, _ := loadedStore(t, map[string]int{"P1": 5, "P2": 5})
	require.NoError(t, s.AddToCart(ctx, product("P1", "S1", 10, 5), 3))
	require.NoError(t, s.AddToCart(ctx, product("P2", "S2", 20, 5), 2))

	require.NoError(t, s.RemoveOrdered(ctx, []models.StockLine{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 2},
		{ProductID: "P9", Quantity: 1},
	}))
	assert.Equal(t, 1, s.Quantity("P1"))
	assert.False(t, s.Contains("P2"))

	var saved []models.CartItem
	require.NoError(t, json.Unmarshal(p.Raw("dev-1"), &saved))
	require.Len(t, saved, 1)
	assert.Equal(t, 1, saved[0].Quantity)

	require.NoError(t, s.RemoveOrdered(ctx, []models.StockLine{{ProductID: "P1", Quantity: 1}}))
	assert.Zero(t, s.TotalItems())
	assert.Nil(t, p.Raw("dev-1"), "an emptied cart is erased")
}

func TestRegistry_OneStorePerDevice(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(NewMemoryPersister(), &fakeStock{qty: map[string]int{"P1": 5}}, zap.NewNop())

	a, err := r.Get(ctx, "dev-a")
	require.NoError(t, err)
	again, err := r.Get(ctx, "dev-a")
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.True(t, a.Initialized())

	b, err := r.Get(ctx, "dev-b")
	require.NoError(t, err)
	require.NoError(t, a.AddToCart(ctx, product("P1", "S1", 10, 5), 1))
	assert.Zero(t, b.TotalItems())

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.ElementsMatch(t, []string{"dev-a", "dev-b"}, r.EvictIdle(time.Minute, nil))
	restored, err := r.Get(ctx, "dev-a")
	require.NoError(t, err)
	assert.NotSame(t, a, restored)
	assert.Equal(t, 1, restored.Quantity("P1"))

	_, err = r.Get(ctx, "")
	assert.ErrorIs(t, err, ErrMissingDevice)
}

func TestRegistry_EvictIdle(t *testing.T) {
	ctx := context.Background()
	persister := NewMemoryPersister()
	r := NewRegistry(persister, &fakeStock{qty: map[string]int{"P1": 5}}, zap.NewNop())
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	old, err := r.Get(ctx, "dev-old")
	require.NoError(t, err)
	require.NoError(t, old.AddToCart(ctx, product("P1", "S1", 10, 5), 2))
	_, err = r.Get(ctx, "dev-held")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	_, err = r.Get(ctx, "dev-fresh")
	require.NoError(t, err)
	now = now.Add(15 * time.Minute)

	held := func(id string) bool { return id == "dev-held" }
	evicted := r.EvictIdle(30*time.Minute, held)
	assert.Equal(t, []string{"dev-old"}, evicted)
	assert.Equal(t, 2, r.Len())

	reloaded, err := r.Get(ctx, "dev-old")
	require.NoError(t, err)
	assert.NotSame(t, old, reloaded)
	assert.Equal(t, 2, reloaded.Quantity("P1"), "the persisted cart survives eviction")
}
