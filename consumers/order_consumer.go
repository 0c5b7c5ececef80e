package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storefront-service/config"
	"storefront-service/database"
	"storefront-service/middlewares"
	"storefront-service/models"
	"storefront-service/orders"
	"storefront-service/stock"
)

var errMalformed = errors.New("malformed order event")

type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// Notifier receives the customer facing message for an order event.
type Notifier func(o *models.Order, n orders.Notification)

type OrderConsumer struct {
	orders  OrderLookup
	stock   stock.Adjuster
	notify  Notifier
	logger  *zap.Logger
	timeout time.Duration
}

// NewOrderConsumer builds a consumer. notify may be nil, in which case
// notifications are only logged.
func NewOrderConsumer(lookup OrderLookup, adjuster stock.Adjuster, notify Notifier, logger *zap.Logger) *OrderConsumer {
	c := &OrderConsumer{
		orders:  lookup,
		stock:   adjuster,
		notify:  notify,
		logger:  logger.Named("order-consumer"),
		timeout: 10 * time.Second,
	}
	if c.notify == nil {
		c.notify = func(o *models.Order, n orders.Notification) {
			c.logger.Info(n.Title, zap.String("order_id", o.OrderID),
				zap.String("customer_id", o.CustomerID), zap.String("body", n.Body))
		}
	}
	return c
}

// Start registers the order queue and dead letter queue consumers and
// processes deliveries until their channels close.
func (c *OrderConsumer) Start(ch *amqp.Channel, cfg *config.Config) error {
	// 消费主订单队列
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		"storefront-service", // consumers tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("register order consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			c.HandleMessage(msg)
		}
	}()

	// 消费死信队列
	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		"storefront-service-dlq", // consumers tag
		false,                    // auto-ack
		false,                    // exclusive
		false,                    // no-local
		false,                    // no-wait
		nil,
	)
	if err != nil {
		c.logger.Warn("failed to register dead letter consumer", zap.Error(err))
		return nil
	}

	go func() {
		for msg := range dlqMsgs {
			c.HandleDeadLetter(msg)
		}
	}()
	return nil
}

// HandleMessage processes one order event. Malformed events and events that
// fail are rejected without requeue so they end up in the dead letter queue.
func (c *OrderConsumer) HandleMessage(msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered from panic in message processing", zap.Any("panic", r))
			_ = msg.Nack(false, false)
		}
	}()

	event, err := decodeEvent(msg.Body)
	if err != nil {
		c.logger.Warn("invalid message", zap.ByteString("body", msg.Body), zap.Error(err))
		_ = msg.Nack(false, false) // 拒绝消息，不重新入队
		middlewares.RecordOrderOperation("consume", false)
		return
	}

	logger := c.logger.With(zap.String("order_id", event.OrderID), zap.String("type", event.Type))
	logger.Debug("processing order event")

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	// 根据事件类型处理
	switch event.Type {
	case models.EventCreated, models.EventStatusUpdated, models.EventCancelled:
		err = c.handleStatusEvent(ctx, event)
	case models.EventStockReconcile:
		err = c.handleStockReconcile(ctx, event, logger)
	default:
		logger.Warn("unknown event type")
	}

	if err != nil {
		logger.Error("failed to process order event", zap.Error(err))
		_ = msg.Nack(false, false)
		middlewares.RecordOrderOperation("consume_"+event.Type, false)
		return
	}

	// 处理成功后确认消息
	if err := msg.Ack(false); err != nil {
		logger.Warn("failed to ack message", zap.Error(err))
	}
	middlewares.RecordOrderOperation("consume_"+event.Type, true)
}

// HandleDeadLetter records a message that could not be processed.
func (c *OrderConsumer) HandleDeadLetter(msg amqp.Delivery) {
	fields := []zap.Field{zap.ByteString("body", msg.Body)}
	if event, err := decodeEvent(msg.Body); err == nil {
		fields = append(fields, zap.String("order_id", event.OrderID), zap.String("type", event.Type))
	}
	if deaths, ok := msg.Headers["x-death"].([]interface{}); ok {
		fields = append(fields, zap.Int("deaths", len(deaths)))
	}
	c.logger.Error("received dead letter", fields...)
	middlewares.RecordOrderOperation("dead_letter", true)
	_ = msg.Ack(false)
}

func decodeEvent(body []byte) (models.OrderEvent, error) {
	var e models.OrderEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return e, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if e.OrderID == "" || e.Type == "" {
		return e, fmt.Errorf("%w: missing order id or type", errMalformed)
	}
	return e, nil
}

func (c *OrderConsumer) handleStatusEvent(ctx context.Context, e models.OrderEvent) error {
	// 获取订单最新状态
	o, err := c.orders.GetOrder(ctx, e.OrderID)
	if errors.Is(err, database.ErrNotFound) {
		c.logger.Warn("event for unknown order", zap.String("order_id", e.OrderID))
		return nil
	}
	if err != nil {
		return err
	}
	c.notify(o, orders.StatusMessage(o))
	return nil
}

// handleStockReconcile retries the stock decrement of an order whose
// decrement failed at checkout. The decrement is keyed by order id, so an
// order that was already reconciled is left alone.
func (c *OrderConsumer) handleStockReconcile(ctx context.Context, e models.OrderEvent, logger *zap.Logger) error {
	o, err := c.orders.GetOrder(ctx, e.OrderID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("reconcile for unknown order")
		return nil
	}
	if err != nil {
		return err
	}
	if o.Status == models.OrderStatusCancelled {
		logger.Info("order cancelled before stock was reconciled")
		return nil
	}

	ok, err := c.stock.DecrementStock(ctx, o.StockLines(), o.OrderID)
	if err != nil {
		return fmt.Errorf("reconcile stock: %w", err)
	}
	if !ok {
		logger.Warn("stock still insufficient for order; needs manual review")
		return nil
	}
	logger.Info("stock reconciled")
	return nil
}
