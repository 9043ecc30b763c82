package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/leadconf/registration-service/internal/models"
)

// StateChangeEvent is emitted whenever a reconciliation outcome is applied
// to a registration/payment pair.
type StateChangeEvent struct {
	Reference      string               `json:"reference"`
	PreviousStatus models.PaymentStatus `json:"previous_status"`
	Status         models.PaymentStatus `json:"status"`
	Trigger        string               `json:"trigger"`
	Timestamp      time.Time            `json:"timestamp"`
}

type EventPublisher interface {
	PublishStateChange(ctx context.Context, event StateChangeEvent) error
}

// KafkaPublisher writes state changes to the payment.state.changed topic,
// keyed by reference so one pair's events stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    "payment.state.changed",
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (p *KafkaPublisher) PublishStateChange(ctx context.Context, event StateChangeEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Reference),
		Value: value,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops events; used in tests.
type NoopPublisher struct{}

func (NoopPublisher) PublishStateChange(context.Context, StateChangeEvent) error { return nil }
