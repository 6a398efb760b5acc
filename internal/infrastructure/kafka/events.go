package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	TopicOrders     = "orders"
	TopicReceipts   = "receipts"
	TopicAlerts     = "alerts"
	TopicBroadcasts = "broadcasts"
	TopicTickets    = "tickets"
)

type EventType string

const (
	EventOrderCreated     EventType = "order_created"
	EventOrderPaid        EventType = "order_paid"
	EventOrderFulfilled   EventType = "order_fulfilled"
	EventOrderCancelled   EventType = "order_cancelled"
	EventOrderExpired     EventType = "order_expired"
	EventReceiptSubmitted EventType = "receipt_submitted"
	EventReceiptApproved  EventType = "receipt_approved"
	EventReceiptRejected  EventType = "receipt_rejected"
	EventOutOfStock       EventType = "out_of_stock"
	EventLowStock         EventType = "low_stock"
	EventInconsistency    EventType = "inconsistency"
	EventBroadcast        EventType = "broadcast"
	EventTicketOpened     EventType = "ticket_opened"
	EventTicketAnswered   EventType = "ticket_answered"
)

// Event is the JSON envelope written to every topic.
type Event struct {
	Type      EventType `json:"event_type"`
	UserID    int64     `json:"user_id,omitempty"`
	OrderID   int64     `json:"order_id,omitempty"`
	PlanID    int64     `json:"plan_id,omitempty"`
	ReceiptID int64     `json:"receipt_id,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Handler consumes one decoded event.
type Handler func(ctx context.Context, event Event) error

func dispatch(ctx context.Context, h Handler, topic string, value []byte) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", topic, err)
	}
	return h(ctx, event)
}

// Publisher sends events on a best-effort basis with a few retries. Domain
// state is already committed when an event is published, so a delivery
// failure is logged and never returned to the caller.
type Publisher struct {
	producer KafkaProducer
	retries  int
	backoff  time.Duration
}

func NewPublisher(producer KafkaProducer) *Publisher {
	return &Publisher{producer: producer, retries: 3, backoff: time.Second}
}

// WithRetry overrides the attempt count and the linear backoff step.
func (p *Publisher) WithRetry(retries int, backoff time.Duration) *Publisher {
	p.retries, p.backoff = retries, backoff
	return p
}

func (p *Publisher) Publish(ctx context.Context, topic string, key int64, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal kafka event", "topic", topic, "event_type", event.Type, "error", err)
		return
	}

retry:
	for i := 0; i < p.retries; i++ {
		if err = p.producer.Send(ctx, topic, key, eventBytes); err == nil {
			slog.Info("event published", "topic", topic, "event_type", event.Type, "key", key)
			return
		}
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(p.backoff * time.Duration(i+1)):
		}
	}
	slog.Error("failed to publish event after retries", "topic", topic, "event_type", event.Type, "key", key, "error", err)
}
