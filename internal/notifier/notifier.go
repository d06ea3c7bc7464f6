// Package notifier broadcasts order and settlement state-change events.
// Delivery is best-effort and not required for correctness of the core.
package notifier

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/obsidianex/darkpool/internal/model"
)

// Notifier receives state-change events for broadcast
type Notifier interface {
	Publish(ctx context.Context, event model.Event)
}

// Noop discards all events
type Noop struct{}

// Publish implements Notifier
func (Noop) Publish(context.Context, model.Event) {}

// KafkaNotifier publishes events to a Kafka topic
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier creates a notifier writing to the given brokers and topic
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaNotifier{writer: writer, logger: logger}
}

// Publish serializes the event and writes it to Kafka. Failures are logged
// and dropped; the core never blocks on event delivery.
func (n *KafkaNotifier) Publish(ctx context.Context, event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(event.Pair),
		Value: payload,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("pair", event.Pair),
			zap.Error(err))
	}
}

// Close closes the underlying Kafka writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
