// Package orders covers what happens to an order after checkout: lookups,
// the delivery status progression and cancellation by the customer.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront-service/database"
	"storefront-service/models"
	"storefront-service/stock"
)

var (
	ErrForbidden      = errors.New("order belongs to another customer")
	ErrNotCancellable = errors.New("order can only be cancelled before it is packed")
	ErrInvalidStatus  = errors.New("invalid order status")
	// ErrStatusRegression is returned for a status that is not after the
	// current one.
	ErrStatusRegression = errors.New("order status can only move forward")
)

type Repository interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	TransitionStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error
}

type Publisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

type Service struct {
	repo      Repository
	stock     stock.Adjuster
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService builds the service; publisher may be nil.
func NewService(repo Repository, adjuster stock.Adjuster, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		stock:     adjuster,
		publisher: publisher,
		logger:    logger.Named("orders"),
		now:       time.Now,
	}
}

func (s *Service) Get(ctx context.Context, orderID string) (*models.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// GetForCustomer returns the order only to the customer who placed it.
func (s *Service) GetForCustomer(ctx context.Context, orderID, customerID string) (*models.Order, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	return s.repo.ListOrdersByCustomer(ctx, customerID)
}

// UpdateStatus moves an order forward along the delivery progression.
// Cancellation goes through Cancel.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.Order, error) {
	if status.Rank() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderStatusCancelled || status.Rank() <= o.Status.Rank() {
		return nil, fmt.Errorf("%w: %s to %s", ErrStatusRegression, o.Status, status)
	}

	if err := s.repo.TransitionStatus(ctx, orderID, o.Status, status, s.now().UTC()); err != nil {
		return nil, err
	}
	updated, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated, models.EventStatusUpdated)
	return updated, nil
}

// Cancel cancels an order that is still in the received status and returns
// its stock. Restoring stock twice for the same order has no effect.
func (s *Service) Cancel(ctx context.Context, orderID, customerID string) (*models.Order, error) {
	o, err := s.GetForCustomer(ctx, orderID, customerID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderStatusReceived {
		return nil, ErrNotCancellable
	}

	err = s.repo.TransitionStatus(ctx, orderID, models.OrderStatusReceived, models.OrderStatusCancelled, s.now().UTC())
	if errors.Is(err, database.ErrStatusConflict) {
		// packed in the meantime
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}

	if ok, err := s.stock.RestoreStock(ctx, o.StockLines(), orderID); err != nil || !ok {
		s.logger.Warn("failed to restore stock for cancelled order",
			zap.String("order_id", orderID), zap.Bool("applied", ok), zap.Error(err))
	}

	updated, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated, models.EventCancelled)
	return updated, nil
}

func (s *Service) publish(ctx context.Context, o *models.Order, eventType string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishOrderEvent(ctx, models.NewOrderEvent(o, eventType)); err != nil {
		s.logger.Warn("failed to publish order event",
			zap.String("order_id", o.OrderID), zap.String("type", eventType), zap.Error(err))
	}
}
