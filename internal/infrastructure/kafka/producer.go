package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

type KafkaProducer interface {
	Send(ctx context.Context, topic string, key int64, value []byte) error
	Close() error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(fmt.Sprintf("%d", key)),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("failed to send Kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	slog.Debug("Kafka message sent", "topic", topic, "key", key)
	return nil
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		slog.Error("failed to close Kafka writer", "error", err)
		return err
	}
	slog.Info("Kafka writer closed")
	return nil
}

// LocalProducer delivers messages straight to in-process handlers. It stands
// in for the broker when KAFKA_BROKER is empty.
type LocalProducer struct {
	handlers map[string][]Handler
}

func NewLocalProducer() *LocalProducer {
	return &LocalProducer{handlers: make(map[string][]Handler)}
}

// Subscribe registers h for topic. It must be called before any Send.
func (p *LocalProducer) Subscribe(topic string, h Handler) {
	p.handlers[topic] = append(p.handlers[topic], h)
}

func (p *LocalProducer) Send(ctx context.Context, topic string, key int64, value []byte) error {
	slog.Debug("local message dispatched", "topic", topic, "key", key)
	for _, h := range p.handlers[topic] {
		if err := dispatch(ctx, h, topic, value); err != nil {
			slog.Error("local handler failed", "topic", topic, "key", key, "error", err)
		}
	}
	return nil
}

func (p *LocalProducer) Close() error { return nil }
