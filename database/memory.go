package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront-service/models"
	"storefront-service/stock"
)

type stockWatcher struct {
	ids      map[string]struct{}
	onChange func(productID string, quantity int)
}

// MemoryStore keeps products, orders, users and the stock ledger in process.
// It backs the "memory" backend and the tests.
type MemoryStore struct {
	mu        sync.RWMutex
	products  map[string]models.Product
	orders    map[string]models.Order
	users     map[string]models.UserProfile
	addresses map[string]models.UserAddress
	ledger    map[string]struct{}

	watchMu  sync.Mutex
	nextW    int
	watchers map[int]stockWatcher
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[string]models.Product),
		orders:    make(map[string]models.Order),
		users:     make(map[string]models.UserProfile),
		addresses: make(map[string]models.UserAddress),
		ledger:    make(map[string]struct{}),
		watchers:  make(map[int]stockWatcher),
	}
}

func (m *MemoryStore) PutProduct(p models.Product) {
	m.mu.Lock()
	m.products[p.ID] = p
	m.mu.Unlock()
	m.notify(p.ID, p.Stock)
}

func (m *MemoryStore) PutUser(u models.UserProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemoryStore) PutAddress(a models.UserAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[a.UserID] = a
}

// SetStock changes the available quantity as another buyer or the seller would.
func (m *MemoryStore) SetStock(productID string, quantity int) error {
	m.mu.Lock()
	p, ok := m.products[productID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	p.Stock = quantity
	m.products[productID] = p
	m.mu.Unlock()
	m.notify(productID, quantity)
	return nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *MemoryStore) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		if !p.IsActive {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.OrderID]; ok {
		return "", ErrDuplicateOrder
	}
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	m.orders[o.OrderID] = cp
	return o.OrderID, nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o
	return &cp, nil
}

func (m *MemoryStore) ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Orders returns every stored order; tests use it to assert what was created.
func (m *MemoryStore) Orders() []models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	stampStatus(&o, to, at)
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) GetUserAddress(ctx context.Context, userID string) (*models.UserAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.addresses[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) UpdateUserProfile(ctx context.Context, p *models.UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[p.ID]
	u.ID, u.Name, u.Phone, u.Address, u.Pincode = p.ID, p.Name, p.Phone, p.Address, p.Pincode
	m.users[p.ID] = u
	return nil
}

func (m *MemoryStore) SaveUserAddress(ctx context.Context, a *models.UserAddress) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[a.UserID] = *a
	return nil
}

func (m *MemoryStore) GetStock(ctx context.Context, productID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[productID]
	if !ok {
		return 0, stock.ErrUnknownProduct
	}
	return p.Stock, nil
}

// Subscribe reports the current quantities immediately and then every change.
func (m *MemoryStore) Subscribe(ctx context.Context, productIDs []string, onChange func(productID string, quantity int)) (func(), error) {
	ids := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		ids[id] = struct{}{}
	}

	m.watchMu.Lock()
	id := m.nextW
	m.nextW++
	m.watchers[id] = stockWatcher{ids: ids, onChange: onChange}
	m.watchMu.Unlock()

	m.mu.RLock()
	initial := make(map[string]int, len(productIDs))
	for _, pid := range productIDs {
		if p, ok := m.products[pid]; ok {
			initial[pid] = p.Stock
		}
	}
	m.mu.RUnlock()
	for pid, q := range initial {
		onChange(pid, q)
	}

	return func() {
		m.watchMu.Lock()
		delete(m.watchers, id)
		m.watchMu.Unlock()
	}, nil
}

func (m *MemoryStore) notify(productID string, quantity int) {
	m.watchMu.Lock()
	var fns []func(string, int)
	for _, w := range m.watchers {
		if _, ok := w.ids[productID]; ok {
			fns = append(fns, w.onChange)
		}
	}
	m.watchMu.Unlock()
	for _, fn := range fns {
		fn(productID, quantity)
	}
}

func (m *MemoryStore) DecrementStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error) {
	return m.adjust(ctx, lines, orderID, ledgerDecrement)
}

// RestoreStock returns stock taken for orderID. Orders whose decrement never
// happened have nothing to return.
func (m *MemoryStore) RestoreStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error) {
	return m.adjust(ctx, lines, orderID, ledgerRestore)
}

func (m *MemoryStore) adjust(ctx context.Context, lines []models.StockLine, orderID, kind string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	key := orderID + "/" + kind
	if _, done := m.ledger[key]; done {
		m.mu.Unlock()
		return true, nil
	}
	if kind == ledgerRestore {
		if _, taken := m.ledger[orderID+"/"+ledgerDecrement]; !taken {
			m.mu.Unlock()
			return true, nil
		}
	}

	updated := make(map[string]models.Product, len(lines))
	for _, l := range lines {
		p, ok := updated[l.ProductID]
		if !ok {
			if p, ok = m.products[l.ProductID]; !ok {
				m.mu.Unlock()
				return false, nil
			}
		}
		if kind == ledgerDecrement {
			if p.Stock < l.Quantity {
				m.mu.Unlock()
				return false, nil
			}
			p.Stock -= l.Quantity
		} else {
			p.Stock += l.Quantity
		}
		updated[l.ProductID] = p
	}
	for id, p := range updated {
		m.products[id] = p
	}
	m.ledger[key] = struct{}{}
	m.mu.Unlock()

	for id, p := range updated {
		m.notify(id, p.Stock)
	}
	return true, nil
}
