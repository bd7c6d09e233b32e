package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
)

// Event is one outgoing message. Key selects the partition, so every event
// for a collection lands on the same partition and stays ordered.
type Event struct {
	Key     string
	JobID   string
	Value   any
	Headers map[string]string
}

// Producer writes keyed messages to one topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Encode turns an event into the record written to the topic.
func Encode(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding event for key %q: %w", event.Key, err)
	}
	headers := []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}}
	if event.JobID != "" {
		headers = append(headers, kafka.Header{Key: HeaderJobID, Value: []byte(event.JobID)})
	}
	for _, k := range slices.Sorted(maps.Keys(event.Headers)) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(event.Headers[k])})
	}
	return kafka.Message{Key: []byte(event.Key), Value: value, Headers: headers}, nil
}

// Publish writes events synchronously in one call; either all are
// acknowledged or an error is returned.
func (p *Producer) Publish(ctx context.Context, events ...Event) error {
	records := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		record, err := Encode(event)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		p.logger.Error("failed to publish", "count", len(records), "error", err)
		return fmt.Errorf("publishing %d events to %s: %w", len(records), p.writer.Topic, err)
	}
	p.logger.Debug("published", "count", len(records))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
