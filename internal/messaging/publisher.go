// Package messaging publishes order lifecycle events to RabbitMQ after the
// change that produced them has been committed.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Event types, also used as routing keys.
const (
	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderCancelled     = "order.cancelled"
	PaymentInitiated   = "payment.initiated"
	PaymentCompleted   = "payment.completed"
	PaymentFailed      = "payment.failed"
)

const (
	defaultPriority = 5
	highPriority    = 9
	cancelPriority  = 8
	maxPriority     = 10
)

// largeOrder is the total above which events jump the queue.
var largeOrder = decimal.NewFromInt(10000)

// Event is the message body for every order and payment notification.
type Event struct {
	Type          string          `json:"type"`
	OrderID       string          `json:"orderId"`
	OrderNumber   string          `json:"orderNumber"`
	UserID        int64           `json:"userId"`
	Status        string          `json:"status,omitempty"`
	PaymentStatus string          `json:"paymentStatus,omitempty"`
	PaymentID     string          `json:"paymentId,omitempty"`
	Total         decimal.Decimal `json:"total"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Priority ranks cancellations and large orders ahead of routine traffic.
func (e Event) Priority() uint8 {
	switch {
	case e.Type == OrderCancelled:
		return cancelPriority
	case e.Total.GreaterThan(largeOrder):
		return highPriority
	}
	return defaultPriority
}

// Publisher delivers events. Failures are the caller's to log; they never
// undo the committed change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// RabbitMQ publishes to a durable topic exchange.
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitMQ dials the broker and declares the exchange and the default
// order queue bound to every routing key.
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	r := &RabbitMQ{conn: conn, channel: ch, exchange: exchange}
	if err := r.setup(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) setup() error {
	if err := r.channel.ExchangeDeclare(
		r.exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}

	queue := r.exchange + ".orders"
	if _, err := r.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-max-priority": maxPriority},
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := r.channel.QueueBind(queue, "#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		ContentType:  "application/json",
		Type:         e.Type,
		Body:         body,
		Priority:     e.Priority(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel.PublishWithContext(ctx, r.exchange, e.Type, false, false, msg)
}

func (r *RabbitMQ) Close() error {
	var firstErr error
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Emit publishes e and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", e.Type).Str("order_number", e.OrderNumber).Msg("publish event failed")
	}
}
