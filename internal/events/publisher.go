// Package events publishes order lifecycle events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	OrderCreatedQueue       = "order.created"
	OrderStatusChangedQueue = "order.status_changed"

	publishTimeout = 3 * time.Second
)

// OrderItem is the line contract shared by order events.
type OrderItem struct {
	ProductID int64   `json:"productId"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderCreated is published once an order has been committed.
type OrderCreated struct {
	EventType  string      `json:"eventType"`
	OrderID    int64       `json:"orderId"`
	UserID     int64       `json:"userId"`
	Items      []OrderItem `json:"items"`
	TotalPrice float64     `json:"totalPrice"`
	Timestamp  time.Time   `json:"timestamp"`
}

// OrderStatusChanged is published after an admin moves an order along.
type OrderStatusChanged struct {
	EventType string    `json:"eventType"`
	OrderID   int64     `json:"orderId"`
	UserID    int64     `json:"userId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is what services depend on.
type Publisher interface {
	OrderCreated(ctx context.Context, order *models.Order)
	OrderStatusChanged(ctx context.Context, order *models.Order, from string)
	Close() error
}

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher publishes JSON events to durable queues on the default
// exchange. Publish failures are logged and counted, never returned: the
// state change they describe is already committed.
type RabbitPublisher struct {
	conn    *amqp.Connection
	ch      Channel
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	now     func() time.Time
}

// Dial connects to the broker and declares the order queues.
func Dial(url string, logger *zap.Logger, m *metrics.AppMetrics) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare queues so publish never fails due to missing infra
	for _, q := range []string{OrderCreatedQueue, OrderStatusChangedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare %s: %w", q, err)
		}
	}

	p := NewRabbitPublisher(ch, logger, m)
	p.conn = conn
	return p, nil
}

// NewRabbitPublisher wraps an already configured channel.
func NewRabbitPublisher(ch Channel, logger *zap.Logger, m *metrics.AppMetrics) *RabbitPublisher {
	return &RabbitPublisher{
		ch:      ch,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

func (p *RabbitPublisher) OrderCreated(ctx context.Context, order *models.Order) {
	ev := OrderCreated{
		EventType:  "OrderCreated",
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Timestamp:  p.now().UTC(),
	}
	for _, it := range order.Items {
		ev.Items = append(ev.Items, OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	p.publish(ctx, OrderCreatedQueue, order.ID, ev)
}

func (p *RabbitPublisher) OrderStatusChanged(ctx context.Context, order *models.Order, from string) {
	p.publish(ctx, OrderStatusChangedQueue, order.ID, OrderStatusChanged{
		EventType: "OrderStatusChanged",
		OrderID:   order.ID,
		UserID:    order.UserID,
		From:      from,
		To:        order.Status,
		Timestamp: p.now().UTC(),
	})
}

// Close closes the channel and, when dialled by this package, the connection.
func (p *RabbitPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *RabbitPublisher) publish(ctx context.Context, queue string, orderID int64, ev any) {
	status := "success"
	if err := p.publishJSON(ctx, queue, ev); err != nil {
		status = "error"
		p.logger.Warn("failed to publish order event",
			zap.String("queue", queue),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
	p.metrics.EventsPublished.Add(ctx, 1, p.metrics.Attrs(
		attribute.String("queue", queue),
		attribute.String("status", status),
	))
}

func (p *RabbitPublisher) publishJSON(ctx context.Context, queue string, ev any) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", queue, err)
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	return p.ch.PublishWithContext(
		pubCtx,
		"",    // default exchange
		queue, // queue name as routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    p.now(),
			Body:         body,
		},
	)
}

// Noop discards events. Used when no broker is configured.
type Noop struct{}

func (Noop) OrderCreated(context.Context, *models.Order)               {}
func (Noop) OrderStatusChanged(context.Context, *models.Order, string) {}
func (Noop) Close() error                                              { return nil }
