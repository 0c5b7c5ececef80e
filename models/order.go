package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusReceived       OrderStatus = "received"
	OrderStatusPacked         OrderStatus = "packed"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// PaymentCashOnDelivery is the only payment method the storefront offers.
const PaymentCashOnDelivery = "cod"

// StatusProgression lists the delivery statuses in the order they are reached.
var StatusProgression = []OrderStatus{
	OrderStatusReceived,
	OrderStatusPacked,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// Rank returns the position of s in StatusProgression, or -1 for statuses
// outside the delivery flow (cancelled, unknown).
func (s OrderStatus) Rank() int {
	for i, st := range StatusProgression {
		if st == s {
			return i
		}
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	return s == OrderStatusCancelled || s.Rank() >= 0
}

type Order struct {
	OrderID          string          `json:"orderId"`
	CustomerID       string          `json:"customerId"`
	SellerID         string          `json:"sellerId"`
	SellerName       string          `json:"sellerName"`
	SellerAddress    string          `json:"sellerAddress"`
	SellerPincode    string          `json:"sellerPincode"`
	CustomerName     string          `json:"customerName"`
	CustomerPhone    string          `json:"customerPhone"`
	CustomerAddress  string          `json:"customerAddress"`
	CustomerPincode  string          `json:"customerPincode"`
	Items            []OrderItem     `json:"items"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Status           OrderStatus     `json:"status"`
	PaymentMethod    string          `json:"paymentMethod"`
	QRCode           string          `json:"qrCode,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	PackedAt         *time.Time      `json:"packedAt,omitempty"`
	OutForDeliveryAt *time.Time      `json:"outForDeliveryAt,omitempty"`
	DeliveredAt      *time.Time      `json:"deliveredAt,omitempty"`
}

type OrderItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Unit        string          `json:"unit"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// StockLines returns the stock adjustments needed to fulfil the order.
func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// StockLine is one product quantity to take from or return to stock.
type StockLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

const (
	EventCreated        = "created"
	EventStatusUpdated  = "status_updated"
	EventCancelled      = "cancelled"
	EventStockReconcile = "stock_reconcile"
)

type OrderEvent struct {
	OrderID    string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	SellerID   string          `json:"sellerId"`
	Type       string          `json:"type"`
	Status     OrderStatus     `json:"status"`
	Total      decimal.Decimal `json:"total"`
	Occurred   time.Time       `json:"occurred"`
}

// NewOrderEvent builds an event of the given type from the order's current state.
func NewOrderEvent(o *Order, eventType string) OrderEvent {
	return OrderEvent{
		OrderID:    o.OrderID,
		CustomerID: o.CustomerID,
		SellerID:   o.SellerID,
		Type:       eventType,
		Status:     o.Status,
		Total:      o.TotalAmount,
		Occurred:   time.Now().UTC(),
	}
}
