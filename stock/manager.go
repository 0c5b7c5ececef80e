package stock

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"storefront-service/models"
)

// Manager answers availability questions from a cache fed by oracle
// subscriptions. Products nobody watches are read from the oracle each time.
type Manager struct {
	oracle Oracle
	logger *zap.Logger

	mu      sync.RWMutex
	live    map[string]int
	cancels []func()
}

func NewManager(oracle Oracle, logger *zap.Logger) *Manager {
	return &Manager{
		oracle: oracle,
		logger: logger.Named("stock"),
		live:   make(map[string]int),
	}
}

// Watch subscribes to changes for productIDs so later reads are served from
// the cache.
func (m *Manager) Watch(ctx context.Context, productIDs []string) error {
	cancel, err := m.oracle.Subscribe(ctx, productIDs, m.update)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()
	return nil
}

func (m *Manager) update(productID string, quantity int) {
	m.mu.Lock()
	m.live[productID] = quantity
	m.mu.Unlock()
	m.logger.Debug("stock changed", zap.String("product_id", productID), zap.Int("quantity", quantity))
}

// Available returns the current quantity of productID.
func (m *Manager) Available(ctx context.Context, productID string) (int, error) {
	m.mu.RLock()
	q, ok := m.live[productID]
	m.mu.RUnlock()
	if ok {
		return q, nil
	}

	return m.oracle.GetStock(ctx, productID)
}

// IsProductInStock reports whether at least quantity units are available.
// Unknown products are never in stock.
func (m *Manager) IsProductInStock(ctx context.Context, productID string, quantity int) (bool, error) {
	q, err := m.Available(ctx, productID)
	if errors.Is(err, ErrUnknownProduct) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return q >= quantity, nil
}

// Invalidate drops the cached figure so the next read goes to the oracle.
func (m *Manager) Invalidate(productIDs ...string) {
	m.mu.Lock()
	for _, id := range productIDs {
		delete(m.live, id)
	}
	m.mu.Unlock()
}

// Adjusting wraps adj so the products of every stock change made through it
// are dropped from the cache once the call returns. Reads then go to the
// oracle until the next subscription update.
func (m *Manager) Adjusting(adj Adjuster) Adjuster {
	return &invalidatingAdjuster{next: adj, m: m}
}

type invalidatingAdjuster struct {
	next Adjuster
	m    *Manager
}

func (a *invalidatingAdjuster) DecrementStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error) {
	defer a.m.Invalidate(productIDs(lines)...)
	return a.next.DecrementStock(ctx, lines, orderID)
}

func (a *invalidatingAdjuster) RestoreStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error) {
	defer a.m.Invalidate(productIDs(lines)...)
	return a.next.RestoreStock(ctx, lines, orderID)
}

func productIDs(lines []models.StockLine) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

func (m *Manager) Close() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}
