// Package kafka carries write jobs and index-complete notifications over
// segmentio/kafka-go. Values are JSON; headers carry the job id so log lines
// on both sides of a topic can be joined.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/resilience"
)

const (
	HeaderJobID       = "job-id"
	HeaderContentType = "content-type"
)

// Message is the part of a fetched record handlers care about.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
}

// MessageHandler processes one message. Errors are retried with backoff
// unless wrapped in resilience.Permanent; a message whose handler still
// fails is left uncommitted.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer reads a topic as part of a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	handler MessageHandler
	retry   resilience.RetryConfig
	name    string
}

// NewConsumer reads topic as a member of group. Processes that must each
// see every message (searchers reloading trees) pass a group unique to the
// process.
func NewConsumer(cfg config.KafkaConfig, topic, group string, handler MessageHandler) *Consumer {
	start := kafka.LastOffset
	if cfg.StartOffset == "first" {
		start = kafka.FirstOffset
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     group,
			MinBytes:    1,
			MaxBytes:    10e6,
			StartOffset: start,
		}),
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic, "group", group),
		handler: handler,
		retry:   resilience.RetryConfig{MaxAttempts: cfg.HandlerAttempts},
		name:    "kafka." + topic,
	}
}

// Start fetches and handles messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer c.reader.Close()
	for {
		record, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		msg := fromRecord(record)
		err = resilience.Retry(ctx, c.name, c.retry, func() error {
			return c.handler(ctx, msg)
		})
		if err != nil {
			c.logger.Error("giving up on message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"job_id", msg.Headers[HeaderJobID],
				"error", err,
			)
			continue
		}
		if err := c.reader.CommitMessages(ctx, record); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

func fromRecord(m kafka.Message) Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       string(m.Key),
		Value:     m.Value,
		Headers:   headers,
	}
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
