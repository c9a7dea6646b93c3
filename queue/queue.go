// Package queue connects dispatch to external workers over RabbitMQ: new
// assignments go out on the delivery queue, status updates come back on the
// updates queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/logx"
	"food-delivery/dispatch/models"
)

// Dial connects with up to five attempts, five seconds apart.
func Dial(ctx context.Context, url string, logger logx.Logger) (*amqp.Connection, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < 5; i++ {
		logger.Info("connecting to RabbitMQ", logx.Int("attempt", i+1))
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < 4 {
			logger.Warn("RabbitMQ connection failed, retrying", logx.Err(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after 5 attempts: %w", err)
}

// AssignmentMessage is what notification workers receive per new offer.
type AssignmentMessage struct {
	AssignmentID string    `json:"assignment_id"`
	OrderID      string    `json:"order_id"`
	ShopOrderID  string    `json:"shop_order_id"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	Candidates   []string  `json:"candidates"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StatusUpdate is an externally driven shop order transition.
type StatusUpdate struct {
	OrderID     string                 `json:"order_id"`
	ShopOrderID string                 `json:"shop_order_id"`
	Status      models.ShopOrderStatus `json:"status"`
	OwnerID     string                 `json:"owner_id"`
}

type publishChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type Publisher struct {
	mu       sync.Mutex
	ch       publishChannel
	exchange string
	queue    string
}

// NewPublisher declares queue as durable and publishes to it through exchange
// ("" is the default exchange).
func NewPublisher(conn *amqp.Connection, exchange, queue string) (*Publisher, *amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	return newPublisher(ch, exchange, queue), ch, nil
}

func newPublisher(ch publishChannel, exchange, queue string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, queue: queue}
}

func (p *Publisher) PublishAssignment(_ context.Context, a models.Assignment) error {
	err := p.publish(a.ID, AssignmentMessage{
		AssignmentID: a.ID,
		OrderID:      a.OrderID,
		ShopOrderID:  a.ShopOrderID,
		Lat:          a.DeliveryAddress.Latitude,
		Lon:          a.DeliveryAddress.Longitude,
		Candidates:   a.Candidates,
		ExpiresAt:    a.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("publish assignment %s: %w", a.ID, err)
	}
	return nil
}

// PublishStatusUpdate is the shop side of the updates queue.
func (p *Publisher) PublishStatusUpdate(_ context.Context, u StatusUpdate) error {
	id := u.OrderID + ":" + u.ShopOrderID + ":" + string(u.Status)
	if err := p.publish(id, u); err != nil {
		return fmt.Errorf("publish status update %s: %w", id, err)
	}
	return nil
}

func (p *Publisher) publish(id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish(p.exchange, p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// NopPublisher is used when RabbitMQ is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishAssignment(context.Context, models.Assignment) error { return nil }

// UpdateHandler applies one status update.
type UpdateHandler interface {
	ApplyStatusUpdate(ctx context.Context, u StatusUpdate) error
}

type consumeChannel interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

type Consumer struct {
	ch      consumeChannel
	queue   string
	handler UpdateHandler
	logger  logx.Logger
}

func NewConsumer(conn *amqp.Connection, queue string, handler UpdateHandler, logger logx.Logger) (*Consumer, *amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("declare %s: %w", queue, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("qos: %w", err)
	}
	return &Consumer{ch: ch, queue: queue, handler: handler, logger: logger}, ch, nil
}

// Run consumes until ctx ends or the channel closes. Malformed or rejected
// updates are dropped; other failures are requeued.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery updates channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var u StatusUpdate
	if err := json.Unmarshal(d.Body, &u); err != nil || u.OrderID == "" || u.ShopOrderID == "" {
		c.logger.Warn("malformed status update dropped", logx.String("body", string(d.Body)))
		_ = d.Reject(false)
		return
	}

	err := c.handler.ApplyStatusUpdate(ctx, u)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, apperr.ErrInvalid), errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrForbidden):
		c.logger.Warn("status update rejected",
			logx.String("order_id", u.OrderID),
			logx.String("shop_order_id", u.ShopOrderID),
			logx.String("status", string(u.Status)),
			logx.Err(err),
		)
		_ = d.Reject(false)
	default:
		c.logger.Error("status update failed, requeueing", logx.String("order_id", u.OrderID), logx.Err(err))
		_ = d.Nack(false, true)
	}
}
