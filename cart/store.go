// Package cart holds the per-device shopping cart: the list of products a
// buyer intends to order, checked against live stock on every change and
// written back to a Persister after each mutation.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-service/models"
	"storefront-service/stock"
)

var (
	ErrNotInitialized    = errors.New("cart not loaded yet")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidProduct    = errors.New("invalid product")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// StockChecker reports the live available quantity of a product.
// stock.Manager satisfies it.
type StockChecker interface {
	Available(ctx context.Context, productID string) (int, error)
}

type Store struct {
	deviceID  string
	persister Persister
	stock     StockChecker
	logger    *zap.Logger

	mu          sync.RWMutex
	items       []models.CartItem
	initialized bool
}

func NewStore(deviceID string, persister Persister, checker StockChecker, logger *zap.Logger) *Store {
	return &Store{
		deviceID:  deviceID,
		persister: persister,
		stock:     checker,
		logger:    logger.Named("cart").With(zap.String("device_id", deviceID)),
	}
}

func (s *Store) DeviceID() string { return s.deviceID }

// Initialized reports whether Load has finished. Until then an empty cart
// means "not known yet" rather than "nothing in it".
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Load restores the persisted cart. Entries without a product id, without a
// product or with a non-positive quantity are dropped; an unreadable cart
// is discarded and the store starts empty.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { s.initialized = true }()

	s.items = nil
	data, err := s.persister.Load(ctx, s.deviceID)
	if err != nil {
		s.logger.Warn("failed to load cart", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("discarding unreadable cart", zap.Error(err))
		if err := s.persister.Delete(ctx, s.deviceID); err != nil {
			s.logger.Warn("failed to delete unreadable cart", zap.Error(err))
		}
		return
	}

	dropped := 0
	for _, r := range raw {
		var it models.CartItem
		if err := json.Unmarshal(r, &it); err != nil || !it.Valid() {
			dropped++
			continue
		}
		if i := s.indexOf(it.ProductID); i >= 0 {
			s.items[i].Quantity += it.Quantity
			continue
		}
		s.items = append(s.items, it)
	}
	if dropped > 0 {
		s.logger.Warn("dropped malformed cart entries", zap.Int("dropped", dropped))
	}
}

func (s *Store) indexOf(productID string) int {
	for i, it := range s.items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

// live returns the available quantity, treating unknown products as sold out.
func (s *Store) live(ctx context.Context, productID string) (int, error) {
	q, err := s.stock.Available(ctx, productID)
	if errors.Is(err, stock.ErrUnknownProduct) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stock check for %s: %w", productID, err)
	}
	return q, nil
}

// AddToCart adds quantity units of product, merging with an existing entry.
// The whole resulting quantity must be available: ErrOutOfStock when none is
// left, ErrInsufficientStock when some but not enough is.
func (s *Store) AddToCart(ctx context.Context, product models.Product, quantity int) error {
	if product.ID == "" {
		return ErrInvalidProduct
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	idx := s.indexOf(product.ID)
	requested := quantity
	if idx >= 0 {
		requested += s.items[idx].Quantity
	}

	available, err := s.live(ctx, product.ID)
	if err != nil {
		return err
	}
	if available <= 0 {
		return fmt.Errorf("%s: %w", product.Name, ErrOutOfStock)
	}
	if available < requested {
		return fmt.Errorf("%s: only %d available: %w", product.Name, available, ErrInsufficientStock)
	}

	snapshot := product
	snapshot.Stock = available
	if idx >= 0 {
		s.items[idx].Product = &snapshot
		s.items[idx].Quantity = clamp(requested, available)
	} else {
		s.items = append(s.items, models.CartItem{
			ProductID: product.ID,
			Product:   &snapshot,
			Quantity:  clamp(requested, available),
		})
	}
	s.persist(ctx)
	return nil
}

// UpdateQuantity sets the quantity of productID. A quantity of zero or less
// removes the entry. A quantity the live stock cannot cover leaves the cart
// as it was and returns ErrInsufficientStock.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveFromCart(ctx, productID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	idx := s.indexOf(productID)
	if idx < 0 {
		return nil
	}

	available, err := s.live(ctx, productID)
	if err != nil {
		return err
	}
	if available < quantity {
		s.logger.Info("quantity update rejected",
			zap.String("product_id", productID),
			zap.Int("requested", quantity),
			zap.Int("available", available))
		return fmt.Errorf("%s: only %d available: %w", s.items[idx].Product.Name, available, ErrInsufficientStock)
	}

	snapshot := *s.items[idx].Product
	snapshot.Stock = available
	s.items[idx].Product = &snapshot
	s.items[idx].Quantity = clamp(quantity, available)
	s.persist(ctx)
	return nil
}

func (s *Store) RemoveFromCart(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	idx := s.indexOf(productID)
	if idx < 0 {
		return nil
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	s.persist(ctx)
	return nil
}

// ClearCart empties the cart and erases its persisted copy.
func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	s.items = nil
	if err := s.persister.Delete(ctx, s.deviceID); err != nil {
		s.logger.Warn("failed to erase persisted cart", zap.Error(err))
	}
	return nil
}

// RemoveOrdered takes the ordered quantities out of the cart. Entries left
// with nothing are dropped; anything added since the order was submitted
// stays. An emptied cart is erased from the persister.
func (s *Store) RemoveOrdered(ctx context.Context, lines []models.StockLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	for _, l := range lines {
		idx := s.indexOf(l.ProductID)
		if idx < 0 {
			continue
		}
		s.items[idx].Quantity -= l.Quantity
		if s.items[idx].Quantity <= 0 {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
		}
	}
	if len(s.items) == 0 {
		s.items = nil
		if err := s.persister.Delete(ctx, s.deviceID); err != nil {
			s.logger.Warn("failed to erase persisted cart", zap.Error(err))
		}
		return nil
	}
	s.persist(ctx)
	return nil
}

// persist writes the whole cart. Failures are logged only. Callers hold s.mu.
func (s *Store) persist(ctx context.Context) {
	items := s.items
	if items == nil {
		items = []models.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		s.logger.Warn("failed to encode cart", zap.Error(err))
		return
	}
	if err := s.persister.Save(ctx, s.deviceID, data); err != nil {
		s.logger.Warn("failed to persist cart", zap.Error(err))
	}
}

// Items returns a copy of the cart entries in the order they were added.
func (s *Store) Items() []models.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CartItem, len(s.items))
	for i, it := range s.items {
		p := *it.Product
		out[i] = models.CartItem{ProductID: it.ProductID, Product: &p, Quantity: it.Quantity}
	}
	return out
}

// TotalAmount sums price times quantity over the product snapshots.
func (s *Store) TotalAmount() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, it := range s.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func (s *Store) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// Quantity returns how many units of productID are in the cart, 0 if none.
func (s *Store) Quantity(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(productID); i >= 0 {
		return s.items[i].Quantity
	}
	return 0
}

func (s *Store) Contains(productID string) bool {
	return s.Quantity(productID) > 0
}

func clamp(q, ceiling int) int {
	if q > ceiling {
		return ceiling
	}
	return q
}
