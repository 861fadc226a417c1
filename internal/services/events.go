package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"purchase_gateway/internal/models"
)

// PurchaseEvent is published whenever a purchase reaches a terminal state
type PurchaseEvent struct {
	PurchaseID    uuid.UUID             `json:"purchase_id"`
	BusinessName  string                `json:"business_name"`
	Status        models.PurchaseStatus `json:"status"`
	Amount        decimal.Decimal       `json:"amount"`
	Authority     string                `json:"authority,omitempty"`
	RefID         *int64                `json:"ref_id,omitempty"`
	FailureReason *string               `json:"failure_reason,omitempty"`
	IsTest        bool                  `json:"is_test"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

func NewPurchaseEvent(p *models.Purchase) PurchaseEvent {
	ev := PurchaseEvent{
		PurchaseID:    p.ID,
		BusinessName:  p.BusinessName,
		Status:        p.Status,
		Amount:        p.Amount,
		RefID:         p.RefID,
		FailureReason: p.FailureReason,
		IsTest:        p.IsTest,
		OccurredAt:    time.Now().UTC(),
	}
	if p.Authority != nil {
		ev.Authority = *p.Authority
	}
	return ev
}

type EventPublisher interface {
	Publish(ctx context.Context, event PurchaseEvent) error
	Close() error
}

// KafkaPublisher writes purchase events keyed by purchase id, so events of one purchase
// stay on one partition.
type KafkaPublisher struct {
	w *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event PurchaseEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal purchase event: %w", err)
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.PurchaseID.String()),
		Value: b,
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// NopPublisher drops events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PurchaseEvent) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// NewEventPublisher picks the Kafka publisher when brokers are configured
func NewEventPublisher(brokers []string, topic string) EventPublisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}
