package database

import (
	"context"
	"errors"
	"time"

	"storefront-service/models"
	"storefront-service/stock"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateOrder = errors.New("duplicate order id")
	// ErrStatusConflict is returned when an order is not in the status a
	// transition expects.
	ErrStatusConflict = errors.New("order status conflict")
)

type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, category string) ([]models.Product, error)
}

type OrderRepository interface {
	// CreateOrder persists o and returns the reference used for later lookups.
	CreateOrder(ctx context.Context, o *models.Order) (string, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
	// TransitionStatus moves the order from one status to another and stamps
	// the matching timestamp. It fails with ErrStatusConflict when the order
	// is no longer in from.
	TransitionStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error
}

type UserRepository interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	GetUserAddress(ctx context.Context, userID string) (*models.UserAddress, error)
	// UpdateUserProfile stores the contact details of p, creating the user
	// when needed. The role is never changed here.
	UpdateUserProfile(ctx context.Context, p *models.UserProfile) error
	SaveUserAddress(ctx context.Context, a *models.UserAddress) error
}

// Store is everything the service needs from its backend.
type Store interface {
	ProductRepository
	OrderRepository
	UserRepository
	stock.Oracle
	stock.Adjuster
}

const (
	ledgerDecrement = "decrement"
	ledgerRestore   = "restore"
)

func stampStatus(o *models.Order, status models.OrderStatus, at time.Time) {
	o.Status = status
	o.UpdatedAt = at
	switch status {
	case models.OrderStatusPacked:
		o.PackedAt = &at
	case models.OrderStatusOutForDelivery:
		o.OutForDeliveryAt = &at
	case models.OrderStatusDelivered:
		o.DeliveredAt = &at
	}
}
