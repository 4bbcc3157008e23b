// Package kafka wraps segmentio/kafka-go for the analytics event stream:
// a JSON producer keyed by firm and a group consumer feeding one handler.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bhandzo/cw-search-prototype/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Message is the part of a Kafka record a handler needs.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	Time  time.Time
}

// MessageHandler processes one message. A returned error is logged and the
// message is still committed, so a poison record cannot stall its partition.
type MessageHandler func(ctx context.Context, msg Message) error

// ConsumerStats counts what a consumer has done since it started.
type ConsumerStats struct {
	Handled     int64
	Failed      int64
	FetchErrors int64
	LastMessage time.Time
}

// Consumer reads a set of topics as one consumer group.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger

	handled     atomic.Int64
	failed      atomic.Int64
	fetchErrors atomic.Int64
	lastMessage atomic.Int64
}

func NewConsumer(cfg config.KafkaConfig, handler MessageHandler, topics ...string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.ConsumerGroup,
			GroupTopics: topics,
			MinBytes:    1,
			MaxBytes:    1 << 20,
			MaxWait:     time.Second,
			StartOffset: kafka.LastOffset,
		}),
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "group", cfg.ConsumerGroup, "topics", topics),
	}
}

// Start consumes until ctx is cancelled, then closes the reader.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			c.logger.Warn("closing reader", "error", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopped")
				return nil
			}
			c.fetchErrors.Add(1)
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		c.lastMessage.Store(time.Now().UnixNano())

		msg := Message{Topic: m.Topic, Key: m.Key, Value: m.Value, Time: m.Time}
		if err := c.handler(ctx, msg); err != nil {
			c.failed.Add(1)
			c.logger.Error("handler failed, skipping message",
				"topic", m.Topic,
				"partition", m.Partition,
				"offset", m.Offset,
				"error", err,
			)
		} else {
			c.handled.Add(1)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed", "partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) Stats() ConsumerStats {
	s := ConsumerStats{
		Handled:     c.handled.Load(),
		Failed:      c.failed.Load(),
		FetchErrors: c.fetchErrors.Load(),
	}
	if ns := c.lastMessage.Load(); ns > 0 {
		s.LastMessage = time.Unix(0, ns)
	}
	return s
}

// Check reports an error when fetches have failed and nothing has arrived
// within idle. It is meant for the readiness check.
func (c *Consumer) Check(idle time.Duration) func(ctx context.Context) error {
	return func(context.Context) error {
		s := c.Stats()
		if s.FetchErrors == 0 {
			return nil
		}
		if s.LastMessage.IsZero() || time.Since(s.LastMessage) > idle {
			return fmt.Errorf("%d fetch errors, last message %s", s.FetchErrors, lastSeen(s.LastMessage))
		}
		return nil
	}
}

func lastSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
