package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-service/config"
	"storefront-service/models"
)

const (
	PriorityDefault   uint8 = 5
	PriorityCancelled uint8 = 8
	PriorityLarge     uint8 = 9
)

var largeOrderTotal = decimal.NewFromInt(1000)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitMQ struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Cfg     *config.Config

	pub     publishChannel
	delayed bool
	logger  *zap.Logger
}

func NewRabbitMQ(cfg *config.Config, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQ{
		Conn:    conn,
		Channel: ch,
		Cfg:     cfg,
		pub:     ch,
		logger:  logger.Named("rabbitmq"),
	}, nil
}

func (r *RabbitMQ) SetupQueues() error {
	// 声明死信交换机和队列
	if err := r.Channel.ExchangeDeclare(
		r.Cfg.DeadLetterQueue+"_exchange",
		"direct",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}

	if _, err := r.Channel.QueueDeclare(
		r.Cfg.DeadLetterQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-queue-type": "classic"},
	); err != nil {
		return err
	}

	if err := r.Channel.QueueBind(r.Cfg.DeadLetterQueue, "", r.Cfg.DeadLetterQueue+"_exchange", false, nil); err != nil {
		return err
	}

	if err := r.Channel.ExchangeDeclare(r.Cfg.OrderExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}

	// 声明主订单队列（带优先级和死信）
	if _, err := r.Channel.QueueDeclare(
		r.Cfg.OrderQueue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-max-priority":            r.Cfg.MaxPriority,
			"x-dead-letter-exchange":    r.Cfg.DeadLetterQueue + "_exchange",
			"x-dead-letter-routing-key": r.Cfg.DeadLetterQueue,
		},
	); err != nil {
		return err
	}

	if err := r.Channel.QueueBind(r.Cfg.OrderQueue, "", r.Cfg.OrderExchange, false, nil); err != nil {
		return err
	}

	r.delayed = r.setupDelayExchange()
	return nil
}

// setupDelayExchange needs the delayed message plugin. A failed declare
// closes the channel it was made on, so it gets a channel of its own.
func (r *RabbitMQ) setupDelayExchange() bool {
	ch, err := r.Conn.Channel()
	if err != nil {
		r.logger.Warn("delayed exchange unavailable", zap.Error(err))
		return false
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		r.Cfg.DelayExchange,
		"x-delayed-message",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		r.logger.Warn("delayed exchange not supported, delayed events are sent immediately", zap.Error(err))
		return false
	}
	if err := ch.QueueBind(r.Cfg.OrderQueue, "", r.Cfg.DelayExchange, false, nil); err != nil {
		r.logger.Warn("failed to bind order queue to delayed exchange", zap.Error(err))
		return false
	}
	return true
}

// Priority ranks an event on the order queue: cancellations first among
// ordinary orders, orders above 1000 highest.
func Priority(e models.OrderEvent) uint8 {
	switch {
	case e.Total.GreaterThan(largeOrderTotal):
		return PriorityLarge
	case e.Type == models.EventCancelled:
		return PriorityCancelled
	default:
		return PriorityDefault
	}
}

func encode(e models.OrderEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Type:         e.Type,
		MessageId:    e.OrderID + ":" + e.Type,
		Body:         body,
		Priority:     Priority(e),
	}, nil
}

func (r *RabbitMQ) PublishOrderEvent(ctx context.Context, e models.OrderEvent) error {
	msg, err := encode(e)
	if err != nil {
		return err
	}
	return r.pub.PublishWithContext(ctx,
		r.Cfg.OrderExchange,
		"",
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (r *RabbitMQ) PublishDelayedEvent(ctx context.Context, e models.OrderEvent, delay time.Duration) error {
	if !r.delayed {
		return r.PublishOrderEvent(ctx, e)
	}
	msg, err := encode(e)
	if err != nil {
		return err
	}
	msg.Headers = amqp.Table{
		"x-delay": delay.Milliseconds(), // 延迟时间（毫秒）
	}
	return r.pub.PublishWithContext(ctx,
		r.Cfg.DelayExchange,
		"",
		false, // mandatory
		false, // immediate
		msg,
	)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		if err := r.Channel.Close(); err != nil {
			r.logger.Warn("failed to close channel", zap.Error(err))
		}
	}
	if r.Conn != nil {
		if err := r.Conn.Close(); err != nil {
			r.logger.Warn("failed to close connection", zap.Error(err))
		}
	}
}
