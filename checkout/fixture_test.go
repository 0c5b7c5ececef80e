package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-service/cart"
	"storefront-service/database"
	"storefront-service/models"
	"storefront-service/stock"
)

type fixture struct {
	store     *database.MemoryStore
	stock     *stock.Manager
	validator *Validator
	creator   *flakyCreator
	publisher *recordingPublisher
	assembler *Assembler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := database.NewMemoryStore()
	store.PutProduct(models.Product{
		ID: "P1", Name: "Wheat seed", Unit: "kg", Price: decimal.NewFromInt(100), Stock: 10,
		SellerID: "S1", SellerName: "S1", SellerPincode: "380005",
		CoveredPincodes: []string{"380001", "382001"}, IsActive: true,
	})
	store.PutProduct(models.Product{
		ID: "P2", Name: "Organic manure", Unit: "bag", Price: decimal.NewFromInt(70), Stock: 10,
		SellerID: "S2", SellerName: "S2",
		CoveredPincodes: []string{"380001"}, IsActive: true,
	})
	store.PutProduct(models.Product{
		ID: "P3", Name: "Drip kit", Unit: "set", Price: decimal.NewFromInt(50), Stock: 10,
		SellerID: "S1", SellerName: "S1",
		CoveredPincodes: []string{"382001"}, IsActive: true,
	})
	store.PutUser(models.UserProfile{ID: "U1", Name: "Asha", Phone: "9999999999", Address: "12 Farm Road", Pincode: "380001"})

	mgr := stock.NewManager(store, zap.NewNop())
	creator := &flakyCreator{next: store, failSellers: map[string]error{}}
	pub := &recordingPublisher{}
	return &fixture{
		store:     store,
		stock:     mgr,
		validator: NewValidator(store, mgr, false, zap.NewNop()),
		creator:   creator,
		publisher: pub,
		assembler: NewAssembler(creator, store, zap.NewNop(), WithPublisher(pub, time.Minute)),
	}
}

func (f *fixture) item(t *testing.T, productID string, qty int) models.CartItem {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return models.CartItem{ProductID: p.ID, Product: p, Quantity: qty}
}

func (f *fixture) newCart(t *testing.T, lines map[string]int) *cart.Store {
	t.Helper()
	c := cart.NewStore("dev-1", cart.NewMemoryPersister(), f.stock, zap.NewNop())
	c.Load(context.Background())
	for _, id := range []string{"P1", "P2", "P3"} {
		if q, ok := lines[id]; ok {
			p, err := f.store.GetProduct(context.Background(), id)
			require.NoError(t, err)
			require.NoError(t, c.AddToCart(context.Background(), *p, q))
		}
	}
	return c
}

var customerU1 = &Customer{ID: "U1", Name: "Asha", Phone: "9999999999", Address: "12 Farm Road", Pincode: "380001"}

// flakyCreator fails order creation for chosen sellers.
type flakyCreator struct {
	next OrderCreator

	mu          sync.Mutex
	failSellers map[string]error
	calls       int
}

func (c *flakyCreator) failFor(sellerID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSellers[sellerID] = err
}

func (c *flakyCreator) CreateOrder(ctx context.Context, o *models.Order) (string, error) {
	c.mu.Lock()
	c.calls++
	err := c.failSellers[o.SellerID]
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.next.CreateOrder(ctx, o)
}

func (c *flakyCreator) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type publishedEvent struct {
	event models.OrderEvent
	delay time.Duration
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, e models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: e})
	return nil
}

func (p *recordingPublisher) PublishDelayedEvent(ctx context.Context, e models.OrderEvent, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{event: e, delay: d})
	return nil
}

func (p *recordingPublisher) ofType(eventType string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var errBackendDown = errors.New("backend down")
