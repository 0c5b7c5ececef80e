package orders

import (
	"fmt"
	"time"

	"storefront-service/models"
)

type StepState string

const (
	StepCompleted StepState = "completed"
	StepCurrent   StepState = "current"
	StepPending   StepState = "pending"
)

type TimelineStep struct {
	Status      models.OrderStatus `json:"status"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	State       StepState          `json:"state"`
	At          *time.Time         `json:"at,omitempty"`
}

type Timeline struct {
	OrderID           string         `json:"orderId"`
	Cancelled         bool           `json:"cancelled"`
	EstimatedDelivery time.Time      `json:"estimatedDelivery"`
	Steps             []TimelineStep `json:"steps"`
}

// EstimatedDelivery is the day after the order was placed.
func EstimatedDelivery(o *models.Order) time.Time {
	return o.CreatedAt.AddDate(0, 0, 1)
}

// BuildTimeline lays the delivery steps out against the order's status.
// A cancelled order shows every step as pending.
func BuildTimeline(o *models.Order) Timeline {
	created := o.CreatedAt
	steps := []TimelineStep{
		{Status: models.OrderStatusReceived, Title: "Order Placed", Description: "Your order has been received", At: &created},
		{Status: models.OrderStatusPacked, Title: "Packed", Description: "Your order has been packed", At: o.PackedAt},
		{Status: models.OrderStatusOutForDelivery, Title: "Out for Delivery", Description: "Your order is on the way", At: o.OutForDeliveryAt},
		{Status: models.OrderStatusDelivered, Title: "Delivered", Description: "Your order has been delivered", At: o.DeliveredAt},
	}
	current := o.Status.Rank()
	for i := range steps {
		switch {
		case current < 0 || i > current:
			steps[i].State = StepPending
		case i < current:
			steps[i].State = StepCompleted
		default:
			steps[i].State = StepCurrent
		}
	}
	return Timeline{
		OrderID:           o.OrderID,
		Cancelled:         o.Status == models.OrderStatusCancelled,
		EstimatedDelivery: EstimatedDelivery(o),
		Steps:             steps,
	}
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

const notificationDateLayout = "2 Jan 2006"

// StatusMessage is the notification a customer receives when their order
// reaches its current status.
func StatusMessage(o *models.Order) Notification {
	eta := EstimatedDelivery(o).Format(notificationDateLayout)
	switch o.Status {
	case models.OrderStatusReceived:
		return Notification{
			Title: "🎉 Order Received!",
			Body:  fmt.Sprintf("Order #%s has been received and will be delivered by %s. Seller: %s", o.OrderID, eta, o.SellerName),
		}
	case models.OrderStatusPacked:
		return Notification{
			Title: "📦 Order Packed!",
			Body:  fmt.Sprintf("Order #%s has been packed and is ready for dispatch. Expected delivery: %s", o.OrderID, eta),
		}
	case models.OrderStatusOutForDelivery:
		return Notification{
			Title: "🚚 Out for Delivery!",
			Body:  fmt.Sprintf("Order #%s is out for delivery. Your order will arrive soon!", o.OrderID),
		}
	case models.OrderStatusDelivered:
		return Notification{
			Title: "✅ Order Delivered!",
			Body:  fmt.Sprintf("Order #%s has been successfully delivered. Thank you for your purchase!", o.OrderID),
		}
	}
	return Notification{
		Title: "Order Update",
		Body:  fmt.Sprintf("Order #%s status has been updated.", o.OrderID),
	}
}
