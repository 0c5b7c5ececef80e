package checkout

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-service/models"
)

func TestAssembler_ScenarioA_SingleSeller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.assembler.Place(ctx, customerU1, []models.CartItem{f.item(t, "P1", 2)})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.False(t, res.Partial())

	orders := f.store.Orders()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.True(t, decimal.NewFromInt(200).Equal(o.TotalAmount))
	assert.Equal(t, models.OrderStatusReceived, o.Status)
	assert.Equal(t, models.PaymentCashOnDelivery, o.PaymentMethod)
	assert.Equal(t, "S1", o.SellerID)
	assert.Equal(t, "380005", o.SellerPincode)
	assert.Equal(t, "Asha", o.CustomerName)
	assert.True(t, strings.HasPrefix(o.OrderID, "380001-"))
	assert.True(t, strings.HasPrefix(o.QRCode, "data:image/png;base64,"))
	assert.Equal(t, res.Groups[0].OrderRef, o.OrderID)

	left, err := f.store.GetStock(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 8, left)

	created := f.publisher.ofType(models.EventCreated)
	require.Len(t, created, 1)
	assert.Equal(t, o.OrderID, created[0].event.OrderID)
}

func TestAssembler_ScenarioB_OneOrderPerSeller(t *testing.T) {
	f := newFixture(t)
	items := []models.CartItem{f.item(t, "P1", 1), f.item(t, "P2", 1), f.item(t, "P3", 2)}
	p1 := items[0]
	p1.Product.Price = decimal.NewFromInt(50)
	items[0] = p1

	res, err := f.assembler.Place(context.Background(), customerU1, items)
	require.NoError(t, err)

	orders := res.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, "S1", orders[0].SellerID)
	assert.Equal(t, "S2", orders[1].SellerID)

	cartTotal := decimal.Zero
	for _, it := range items {
		cartTotal = cartTotal.Add(it.Subtotal())
	}
	orderTotal := decimal.Zero
	for _, o := range orders {
		orderTotal = orderTotal.Add(o.TotalAmount)
		for _, it := range o.Items {
			p, err := f.store.GetProduct(context.Background(), it.ProductID)
			require.NoError(t, err)
			assert.Equal(t, o.SellerID, p.SellerID, "order %s holds a product of another seller", o.OrderID)
		}
	}
	assert.True(t, cartTotal.Equal(orderTotal))
	assert.True(t, decimal.NewFromInt(150).Equal(orders[0].TotalAmount))
	assert.True(t, decimal.NewFromInt(70).Equal(orders[1].TotalAmount))
	assert.NotEqual(t, orders[0].OrderID, orders[1].OrderID)
}

func TestAssembler_StockFailureKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	items := []models.CartItem{f.item(t, "P1", 2), f.item(t, "P2", 1)}
	// another buyer takes the stock between validation and submission
	require.NoError(t, f.store.SetStock("P2", 0))

	res, err := f.assembler.Place(ctx, customerU1, items)
	require.NoError(t, err)
	assert.True(t, res.Partial())
	require.Len(t, res.Orders(), 2)

	var s2 GroupResult
	for _, g := range res.Groups {
		if g.SellerID == "S2" {
			s2 = g
		}
	}
	require.NotNil(t, s2.Order)
	assert.ErrorIs(t, s2.StockErr, ErrStockNotDecremented)
	assert.Len(t, f.store.Orders(), 2)

	reconcile := f.publisher.ofType(models.EventStockReconcile)
	require.Len(t, reconcile, 1)
	assert.Equal(t, s2.Order.OrderID, reconcile[0].event.OrderID)
	assert.Equal(t, time.Minute, reconcile[0].delay)
}

func TestAssembler_OneGroupFailsOthersStand(t *testing.T) {
	f := newFixture(t)
	f.creator.failFor("S2", errBackendDown)

	res, err := f.assembler.Place(context.Background(), customerU1, []models.CartItem{f.item(t, "P1", 1), f.item(t, "P2", 1)})
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Len(t, res.Orders(), 1)
	assert.ErrorIs(t, res.Groups[1].Err, errBackendDown)

	left, _ := f.store.GetStock(context.Background(), "P2")
	assert.Equal(t, 10, left)
}

func TestAssembler_AllGroupsFail(t *testing.T) {
	f := newFixture(t)
	f.creator.failFor("S1", errBackendDown)
	f.creator.failFor("S2", errBackendDown)

	res, err := f.assembler.Place(context.Background(), customerU1, []models.CartItem{f.item(t, "P1", 1), f.item(t, "P2", 1)})
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, errBackendDown)
	assert.Empty(t, res.Orders())
	assert.Empty(t, f.store.Orders())
}

func TestAssembler_CancelledContextSubmitsNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.assembler.Place(ctx, customerU1, []models.CartItem{f.item(t, "P1", 1), f.item(t, "P2", 1)})
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.creator.Calls())
	assert.Empty(t, f.store.Orders())
}

type collidingCreator struct {
	OrderCreator
	mu     sync.Mutex
	misses int
}

func (c *collidingCreator) CreateOrder(ctx context.Context, o *models.Order) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.misses < 1 {
		c.misses++
		return "", errors.New("wrapped: " + o.OrderID)
	}
	return c.OrderCreator.CreateOrder(ctx, o)
}

func TestAssembler_GroupOutcomesObserved(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	seen := map[string]int{}
	a := NewAssembler(f.creator, f.store, zap.NewNop(),
		WithParallelism(1),
		WithGroupObserver(func(outcome string) {
			mu.Lock()
			seen[outcome]++
			mu.Unlock()
		}))
	f.creator.failFor("S2", errBackendDown)

	_, err := a.Place(context.Background(), customerU1, []models.CartItem{f.item(t, "P1", 1), f.item(t, "P2", 1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{OutcomeCreated: 1, OutcomeFailed: 1}, seen)
}

func TestAssembler_NonDuplicateErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	c := &collidingCreator{OrderCreator: f.store}
	a := NewAssembler(c, f.store, zap.NewNop())

	_, err := a.Place(context.Background(), customerU1, []models.CartItem{f.item(t, "P1", 1)})
	require.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, 1, c.misses)
}

var orderIDPattern = regexp.MustCompile(`^380001-\d{6}-[0-9A-F]{10}$`)

func TestNewOrderID(t *testing.T) {
	at := time.Date(2025, 10, 15, 8, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := NewOrderID("380001", at)
		assert.Regexp(t, orderIDPattern, id)
		assert.True(t, strings.HasPrefix(id, "380001-251015-"))
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.True(t, strings.HasPrefix(NewOrderID("", at), "000000-"))
}

func TestQRCode(t *testing.T) {
	uri, err := QRCode("380001-251015-ABCDEF0123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	assert.Greater(t, len(uri), 100)
}
