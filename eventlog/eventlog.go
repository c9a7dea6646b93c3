// Package eventlog appends dispatch lifecycle events to a Kafka topic.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"food-delivery/dispatch/logx"
)

const (
	AssignmentBroadcast = "assignment_broadcast"
	AssignmentExpired   = "assignment_expired"
	OrderAssigned       = "order_assigned"
	OrderPlaced         = "order_placed"
	OrderStatusChanged  = "order_status_changed"
	OrderDelivered      = "order_delivered"
	DeliveryCodeIssued  = "delivery_code_issued"
)

type Event struct {
	Type         string  `json:"event"`
	OrderID      string  `json:"order_id"`
	ShopOrderID  string  `json:"shop_order_id,omitempty"`
	AssignmentID string  `json:"assignment_id,omitempty"`
	CourierID    string  `json:"courier_id,omitempty"`
	Status       string  `json:"status,omitempty"`
	Round        int     `json:"round,omitempty"`
	RadiusKm     float64 `json:"radius_km,omitempty"`
	Candidates   int     `json:"candidates,omitempty"`
	Timestamp    int64   `json:"timestamp"`
}

// Kafka writes events keyed by order id, so one order's history stays in
// one partition.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
	logger   logx.Logger
	now      func() time.Time
}

func NewKafka(producer sarama.SyncProducer, topic string, logger logx.Logger) *Kafka {
	return &Kafka{producer: producer, topic: topic, logger: logger, now: time.Now}
}

// Dial creates a synchronous producer for brokers.
func Dial(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return producer, nil
}

// Record sends e. Failures are logged and returned; callers treat the log as
// best effort.
func (k *Kafka) Record(_ context.Context, e Event) error {
	if e.Timestamp == 0 {
		e.Timestamp = k.now().Unix()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(e.OrderID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		k.logger.Warn("event log append failed",
			logx.String("event", e.Type),
			logx.String("order_id", e.OrderID),
			logx.Err(err),
		)
		return fmt.Errorf("append %s: %w", e.Type, err)
	}
	k.logger.Debug("event logged",
		logx.String("event", e.Type),
		logx.Int("partition", int(partition)),
		logx.Int64("offset", offset),
	)
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}

var _ Recorder = (*Kafka)(nil)

// Recorder is implemented by Kafka and Nop.
type Recorder interface {
	Record(ctx context.Context, e Event) error
	Close() error
}

type nop struct{}

// Nop discards every event; used when no brokers are configured.
func Nop() Recorder { return nop{} }

func (nop) Record(context.Context, Event) error { return nil }
func (nop) Close() error                        { return nil }
